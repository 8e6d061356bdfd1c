package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"rollcall/attendance/internal/roster"
)

const studentColumns = `s.id, s.student_number, s.card_id, s.first_name, s.last_name, COALESCE(s.email, ''),
	s.phone, s.date_of_birth, s.gender, s.class_id, c.name, s.course_id, s.profile_photo,
	s.is_active, s.enrollment_date, s.created_at, s.updated_at`

const studentFrom = ` FROM students s JOIN classes c ON c.id = s.class_id`

func scanStudent(row pgx.Row) (roster.Student, error) {
	var st roster.Student
	err := row.Scan(
		&st.ID,
		&st.StudentNumber,
		&st.CardID,
		&st.FirstName,
		&st.LastName,
		&st.Email,
		&st.Phone,
		&st.DateOfBirth,
		&st.Gender,
		&st.ClassID,
		&st.ClassName,
		&st.CourseID,
		&st.ProfilePhoto,
		&st.Active,
		&st.EnrollmentDate,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	return st, mapErr(err)
}

func collectStudents(rows pgx.Rows, err error) ([]roster.Student, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []roster.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, mapErr(rows.Err())
}

func (q *Queries) CreateStudent(ctx context.Context, st roster.Student) (roster.Student, error) {
	_, err := q.db.Exec(ctx, `
		INSERT INTO students (id, student_number, card_id, first_name, last_name, email, phone, date_of_birth,
			gender, class_id, course_id, profile_photo, is_active, enrollment_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, st.ID, st.StudentNumber, st.CardID, st.FirstName, st.LastName, nullString(st.Email), st.Phone,
		st.DateOfBirth, st.Gender, st.ClassID, st.CourseID, st.ProfilePhoto, st.Active, st.EnrollmentDate)
	if err != nil {
		return roster.Student{}, mapErr(err)
	}
	return q.GetStudent(ctx, st.ID)
}

func (q *Queries) GetStudent(ctx context.Context, id uuid.UUID) (roster.Student, error) {
	return scanStudent(q.db.QueryRow(ctx, `SELECT `+studentColumns+studentFrom+` WHERE s.id = $1`, id))
}

func (q *Queries) GetStudentByNumber(ctx context.Context, number int64) (roster.Student, error) {
	return scanStudent(q.db.QueryRow(ctx, `SELECT `+studentColumns+studentFrom+` WHERE s.student_number = $1`, number))
}

func (q *Queries) GetStudentByCard(ctx context.Context, cardID uuid.UUID) (roster.Student, error) {
	return scanStudent(q.db.QueryRow(ctx, `SELECT `+studentColumns+studentFrom+` WHERE s.card_id = $1`, cardID))
}

func (q *Queries) ListStudents(ctx context.Context, f roster.StudentFilter) ([]roster.Student, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ClassID != nil {
		where = append(where, "s.class_id = "+arg(*f.ClassID))
	}
	if f.CourseID != nil {
		where = append(where, "s.course_id = "+arg(*f.CourseID))
	}
	if f.Active != nil {
		where = append(where, "s.is_active = "+arg(*f.Active))
	}
	if f.Query != "" {
		p := arg("%" + f.Query + "%")
		where = append(where, fmt.Sprintf("(s.first_name ILIKE %s OR s.last_name ILIKE %s OR s.student_number::text LIKE %s)", p, p, p))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*)`+studentFrom+clause, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}
	limit, offset := arg(f.Limit), arg(f.Offset())
	students, err := collectStudents(q.db.Query(ctx,
		`SELECT `+studentColumns+studentFrom+clause+` ORDER BY s.student_number LIMIT `+limit+` OFFSET `+offset, args...))
	return students, total, err
}

func (q *Queries) ListActiveStudents(ctx context.Context) ([]roster.Student, error) {
	return collectStudents(q.db.Query(ctx, `SELECT `+studentColumns+studentFrom+` WHERE s.is_active ORDER BY s.student_number`))
}

func (q *Queries) ActiveStudentsInClass(ctx context.Context, classID uuid.UUID) ([]roster.Student, error) {
	return collectStudents(q.db.Query(ctx,
		`SELECT `+studentColumns+studentFrom+` WHERE s.is_active AND s.class_id = $1 ORDER BY s.student_number`, classID))
}

func (q *Queries) CountStudentsEnrolledOn(ctx context.Context, day time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM students WHERE enrollment_date = $1`, day).Scan(&n)
	return n, mapErr(err)
}

func (q *Queries) CountStudentsInClass(ctx context.Context, classID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM students WHERE class_id = $1`, classID).Scan(&n)
	return n, mapErr(err)
}

func (q *Queries) CountStudentsInCourse(ctx context.Context, courseID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM students WHERE course_id = $1`, courseID).Scan(&n)
	return n, mapErr(err)
}

func (q *Queries) UpdateStudent(ctx context.Context, st roster.Student) (roster.Student, error) {
	err := execOne(q.db.Exec(ctx, `
		UPDATE students
		SET first_name = $2, last_name = $3, email = $4, phone = $5, date_of_birth = $6, gender = $7,
			class_id = $8, course_id = $9, profile_photo = $10, updated_at = now()
		WHERE id = $1
	`, st.ID, st.FirstName, st.LastName, nullString(st.Email), st.Phone, st.DateOfBirth, st.Gender,
		st.ClassID, st.CourseID, st.ProfilePhoto))
	if err != nil {
		return roster.Student{}, err
	}
	return q.GetStudent(ctx, st.ID)
}

func (q *Queries) SetStudentActive(ctx context.Context, id uuid.UUID, active bool) (roster.Student, error) {
	err := execOne(q.db.Exec(ctx, `UPDATE students SET is_active = $2, updated_at = now() WHERE id = $1`, id, active))
	if err != nil {
		return roster.Student{}, err
	}
	return q.GetStudent(ctx, id)
}

const classColumns = `c.id, c.name, c.level, c.section, c.description,
	(SELECT COUNT(*) FROM students s WHERE s.class_id = c.id AND s.is_active), c.created_at, c.updated_at`

func scanClass(row pgx.Row) (roster.Class, error) {
	var c roster.Class
	err := row.Scan(&c.ID, &c.Name, &c.Level, &c.Section, &c.Description, &c.StudentCount, &c.CreatedAt, &c.UpdatedAt)
	return c, mapErr(err)
}

func (q *Queries) CreateClass(ctx context.Context, c roster.Class) (roster.Class, error) {
	_, err := q.db.Exec(ctx, `
		INSERT INTO classes (id, name, level, section, description) VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Name, c.Level, c.Section, c.Description)
	if err != nil {
		return roster.Class{}, mapErr(err)
	}
	return q.GetClass(ctx, c.ID)
}

func (q *Queries) GetClass(ctx context.Context, id uuid.UUID) (roster.Class, error) {
	return scanClass(q.db.QueryRow(ctx, `SELECT `+classColumns+` FROM classes c WHERE c.id = $1`, id))
}

func (q *Queries) ListClasses(ctx context.Context) ([]roster.Class, error) {
	rows, err := q.db.Query(ctx, `SELECT `+classColumns+` FROM classes c ORDER BY c.name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []roster.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, mapErr(rows.Err())
}

func (q *Queries) UpdateClass(ctx context.Context, c roster.Class) (roster.Class, error) {
	err := execOne(q.db.Exec(ctx, `
		UPDATE classes SET name = $2, level = $3, section = $4, description = $5, updated_at = now() WHERE id = $1
	`, c.ID, c.Name, c.Level, c.Section, c.Description))
	if err != nil {
		return roster.Class{}, err
	}
	return q.GetClass(ctx, c.ID)
}

func (q *Queries) DeleteClass(ctx context.Context, id uuid.UUID) error {
	return execOne(q.db.Exec(ctx, `DELETE FROM classes WHERE id = $1`, id))
}

func scanCourse(row pgx.Row) (roster.Course, error) {
	var c roster.Course
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	return c, mapErr(err)
}

func (q *Queries) CreateCourse(ctx context.Context, c roster.Course) (roster.Course, error) {
	return scanCourse(q.db.QueryRow(ctx, `
		INSERT INTO courses (id, name, description) VALUES ($1, $2, $3)
		RETURNING id, name, description, created_at, updated_at
	`, c.ID, c.Name, c.Description))
}

func (q *Queries) GetCourse(ctx context.Context, id uuid.UUID) (roster.Course, error) {
	return scanCourse(q.db.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at FROM courses WHERE id = $1
	`, id))
}

func (q *Queries) ListCourses(ctx context.Context) ([]roster.Course, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM courses ORDER BY name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []roster.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, mapErr(rows.Err())
}

func (q *Queries) UpdateCourse(ctx context.Context, c roster.Course) (roster.Course, error) {
	return scanCourse(q.db.QueryRow(ctx, `
		UPDATE courses SET name = $2, description = $3, updated_at = now() WHERE id = $1
		RETURNING id, name, description, created_at, updated_at
	`, c.ID, c.Name, c.Description))
}

func (q *Queries) DeleteCourse(ctx context.Context, id uuid.UUID) error {
	return execOne(q.db.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id))
}
