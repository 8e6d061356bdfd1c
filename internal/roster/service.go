package roster

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/clock"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/validation"
)

const (
	ErrStudentNotFound  = "student_not_found"
	ErrClassNotFound    = "class_not_found"
	ErrCourseNotFound   = "course_not_found"
	ErrEmailExists      = "email_exists"
	ErrClassExists      = "class_exists"
	ErrCourseExists     = "course_exists"
	ErrClassHasStudents = "class_has_students"
	ErrCourseInUse      = "course_has_students"
	ErrNumberExhausted  = "student_number_exhausted"

	defaultLimit = 20
	maxLimit     = 100
	// registration retries when two enrollments race for the same number
	numberAttempts = 5
)

type Service struct {
	repo  Repository
	clock clock.Clock
	loc   *time.Location
	log   logging.Logger
}

func NewService(repo Repository, clk clock.Clock, loc *time.Location, log logging.Logger) *Service {
	return &Service{repo: repo, clock: clk, loc: loc, log: log}
}

type RegisterStudentInput struct {
	FirstName    string `json:"firstName" validate:"required,max=100"`
	LastName     string `json:"lastName" validate:"required,max=100"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phoneNumber" validate:"omitempty,max=32"`
	DateOfBirth  string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Gender       string `json:"gender" validate:"omitempty,oneof=male female"`
	ClassID      string `json:"classId" validate:"required,uuid"`
	CourseID     string `json:"courseId" validate:"omitempty,uuid"`
	ProfilePhoto string `json:"profilePhoto" validate:"omitempty,url"`
}

// StudentNumber builds the human-facing student number: the enrollment date
// as YYYYMMDD followed by a three digit sequence.
func StudentNumber(day time.Time, seq int) int64 {
	y, m, d := day.Date()
	return (int64(y)*10000+int64(m)*100+int64(d))*1000 + int64(seq)
}

func (s *Service) RegisterStudent(ctx context.Context, in RegisterStudentInput) (Student, error) {
	if err := validation.Struct(in); err != nil {
		return Student{}, err
	}
	today := clock.Date(s.clock.Now(), s.loc)

	student := Student{
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Email:          strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:          strings.TrimSpace(in.Phone),
		Gender:         in.Gender,
		ProfilePhoto:   in.ProfilePhoto,
		Active:         true,
		EnrollmentDate: today,
	}
	if in.DateOfBirth != "" {
		dob, _ := time.Parse("2006-01-02", in.DateOfBirth)
		if !dob.Before(today) {
			return Student{}, apperr.Validation("invalid_date_of_birth", "dateOfBirth must be in the past")
		}
		student.DateOfBirth = &dob
	}
	if student.ProfilePhoto == "" {
		student.ProfilePhoto = AvatarURL(student.FirstName, student.LastName, student.Gender)
	}

	class, err := s.requireClass(ctx, uuid.MustParse(in.ClassID))
	if err != nil {
		return Student{}, err
	}
	student.ClassID = class.ID
	if in.CourseID != "" {
		course, err := s.requireCourse(ctx, uuid.MustParse(in.CourseID))
		if err != nil {
			return Student{}, err
		}
		student.CourseID = &course.ID
	}

	enrolled, err := s.repo.CountStudentsEnrolledOn(ctx, today)
	if err != nil {
		return Student{}, apperr.Storage("count enrollments", err)
	}
	for attempt := 0; attempt < numberAttempts; attempt++ {
		seq := enrolled + 1 + attempt
		if seq > 999 {
			return Student{}, apperr.Conflict(ErrNumberExhausted, "no student numbers left for today")
		}
		student.ID = uuid.New()
		student.CardID = uuid.New()
		student.StudentNumber = StudentNumber(today, seq)

		created, err := s.repo.CreateStudent(ctx, student)
		if err == nil {
			created.ClassName = class.Name
			s.log.Info(ctx, "student registered", "student_id", created.ID, "student_number", created.StudentNumber)
			return created, nil
		}
		if !errors.Is(err, apperr.ErrDuplicate) {
			return Student{}, apperr.Storage("create student", err)
		}
		if strings.Contains(apperr.Constraint(err), "email") {
			return Student{}, apperr.Conflict(ErrEmailExists, "a student with this email already exists")
		}
	}
	return Student{}, apperr.Conflict(ErrNumberExhausted, "could not allocate a student number")
}

func (s *Service) GetStudent(ctx context.Context, id uuid.UUID) (Student, error) {
	student, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return Student{}, notFoundOr(err, ErrStudentNotFound, "student not found", "get student")
	}
	return student, nil
}

func (s *Service) ListStudents(ctx context.Context, filter StudentFilter) ([]Student, int, error) {
	filter.Page, filter.Limit = NormalizePage(filter.Page, filter.Limit)
	filter.Query = strings.TrimSpace(filter.Query)
	students, total, err := s.repo.ListStudents(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Storage("list students", err)
	}
	return students, total, nil
}

type UpdateStudentInput struct {
	FirstName *string `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"lastName" validate:"omitempty,min=1,max=100"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Phone     *string `json:"phoneNumber" validate:"omitempty,max=32"`
	Gender    *string `json:"gender" validate:"omitempty,oneof=male female"`
	ClassID   *string `json:"classId" validate:"omitempty,uuid"`
	CourseID  *string `json:"courseId" validate:"omitempty,uuid"`
}

// UpdateStudent edits profile fields and reassigns class or course. Identity
// fields (number, card) never change after enrollment.
func (s *Service) UpdateStudent(ctx context.Context, id uuid.UUID, in UpdateStudentInput) (Student, error) {
	if err := validation.Struct(in); err != nil {
		return Student{}, err
	}
	student, err := s.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if in.FirstName != nil {
		student.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		student.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		student.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Phone != nil {
		student.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Gender != nil {
		student.Gender = *in.Gender
	}
	if in.ClassID != nil {
		class, err := s.requireClass(ctx, uuid.MustParse(*in.ClassID))
		if err != nil {
			return Student{}, err
		}
		student.ClassID = class.ID
		student.ClassName = class.Name
	}
	if in.CourseID != nil {
		course, err := s.requireCourse(ctx, uuid.MustParse(*in.CourseID))
		if err != nil {
			return Student{}, err
		}
		student.CourseID = &course.ID
	}

	updated, err := s.repo.UpdateStudent(ctx, student)
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return Student{}, apperr.Conflict(ErrEmailExists, "a student with this email already exists")
		}
		return Student{}, notFoundOr(err, ErrStudentNotFound, "student not found", "update student")
	}
	return updated, nil
}

// SetActive deactivates or reactivates a student. Inactive students are left
// out of the absentee sweep and refused at tap-in.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (Student, error) {
	student, err := s.repo.SetStudentActive(ctx, id, active)
	if err != nil {
		return Student{}, notFoundOr(err, ErrStudentNotFound, "student not found", "set student active")
	}
	s.log.Info(ctx, "student activation changed", "student_id", id, "active", active)
	return student, nil
}

type ClassInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Level       string `json:"level" validate:"max=50"`
	Section     string `json:"section" validate:"max=50"`
	Description string `json:"description" validate:"max=1000"`
}

func (s *Service) CreateClass(ctx context.Context, in ClassInput) (Class, error) {
	if err := validation.Struct(in); err != nil {
		return Class{}, err
	}
	class, err := s.repo.CreateClass(ctx, Class{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(in.Name),
		Level:       in.Level,
		Section:     in.Section,
		Description: in.Description,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return Class{}, apperr.Conflict(ErrClassExists, "a class with this name already exists")
		}
		return Class{}, apperr.Storage("create class", err)
	}
	return class, nil
}

func (s *Service) GetClass(ctx context.Context, id uuid.UUID) (Class, error) {
	return s.requireClass(ctx, id)
}

func (s *Service) ListClasses(ctx context.Context) ([]Class, error) {
	classes, err := s.repo.ListClasses(ctx)
	if err != nil {
		return nil, apperr.Storage("list classes", err)
	}
	return classes, nil
}

func (s *Service) UpdateClass(ctx context.Context, id uuid.UUID, in ClassInput) (Class, error) {
	if err := validation.Struct(in); err != nil {
		return Class{}, err
	}
	class, err := s.repo.UpdateClass(ctx, Class{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Level:       in.Level,
		Section:     in.Section,
		Description: in.Description,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return Class{}, apperr.Conflict(ErrClassExists, "a class with this name already exists")
		}
		return Class{}, notFoundOr(err, ErrClassNotFound, "class not found", "update class")
	}
	return class, nil
}

func (s *Service) DeleteClass(ctx context.Context, id uuid.UUID) error {
	if _, err := s.requireClass(ctx, id); err != nil {
		return err
	}
	count, err := s.repo.CountStudentsInClass(ctx, id)
	if err != nil {
		return apperr.Storage("count class students", err)
	}
	if count > 0 {
		return apperr.Conflict(ErrClassHasStudents, "class still has students")
	}
	if err := s.repo.DeleteClass(ctx, id); err != nil {
		return notFoundOr(err, ErrClassNotFound, "class not found", "delete class")
	}
	return nil
}

type CourseInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

func (s *Service) CreateCourse(ctx context.Context, in CourseInput) (Course, error) {
	if err := validation.Struct(in); err != nil {
		return Course{}, err
	}
	course, err := s.repo.CreateCourse(ctx, Course{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return Course{}, apperr.Conflict(ErrCourseExists, "a course with this name already exists")
		}
		return Course{}, apperr.Storage("create course", err)
	}
	return course, nil
}

func (s *Service) GetCourse(ctx context.Context, id uuid.UUID) (Course, error) {
	return s.requireCourse(ctx, id)
}

func (s *Service) ListCourses(ctx context.Context) ([]Course, error) {
	courses, err := s.repo.ListCourses(ctx)
	if err != nil {
		return nil, apperr.Storage("list courses", err)
	}
	return courses, nil
}

func (s *Service) UpdateCourse(ctx context.Context, id uuid.UUID, in CourseInput) (Course, error) {
	if err := validation.Struct(in); err != nil {
		return Course{}, err
	}
	course, err := s.repo.UpdateCourse(ctx, Course{ID: id, Name: strings.TrimSpace(in.Name), Description: in.Description})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return Course{}, apperr.Conflict(ErrCourseExists, "a course with this name already exists")
		}
		return Course{}, notFoundOr(err, ErrCourseNotFound, "course not found", "update course")
	}
	return course, nil
}

func (s *Service) DeleteCourse(ctx context.Context, id uuid.UUID) error {
	if _, err := s.requireCourse(ctx, id); err != nil {
		return err
	}
	count, err := s.repo.CountStudentsInCourse(ctx, id)
	if err != nil {
		return apperr.Storage("count course students", err)
	}
	if count > 0 {
		return apperr.Conflict(ErrCourseInUse, "course still has students")
	}
	if err := s.repo.DeleteCourse(ctx, id); err != nil {
		return notFoundOr(err, ErrCourseNotFound, "course not found", "delete course")
	}
	return nil
}

func (s *Service) requireClass(ctx context.Context, id uuid.UUID) (Class, error) {
	class, err := s.repo.GetClass(ctx, id)
	if err != nil {
		return Class{}, notFoundOr(err, ErrClassNotFound, "class not found", "get class")
	}
	return class, nil
}

func (s *Service) requireCourse(ctx context.Context, id uuid.UUID) (Course, error) {
	course, err := s.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, notFoundOr(err, ErrCourseNotFound, "course not found", "get course")
	}
	return course, nil
}

// NormalizePage clamps paging parameters to sane defaults.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func notFoundOr(err error, code, message, op string) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound(code, message)
	}
	return apperr.Storage(op, err)
}
