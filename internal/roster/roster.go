// Package roster owns students, classes and courses. Students are never hard
// deleted; deactivation keeps their attendance history addressable.
package roster

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Student struct {
	ID             uuid.UUID  `json:"id"`
	StudentNumber  int64      `json:"studentNumber"`
	CardID         uuid.UUID  `json:"cardId"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phoneNumber,omitempty"`
	DateOfBirth    *time.Time `json:"dateOfBirth,omitempty"`
	Gender         string     `json:"gender,omitempty"`
	ClassID        uuid.UUID  `json:"classId"`
	ClassName      string     `json:"className,omitempty"`
	CourseID       *uuid.UUID `json:"courseId,omitempty"`
	ProfilePhoto   string     `json:"profilePhoto,omitempty"`
	Active         bool       `json:"isActive"`
	EnrollmentDate time.Time  `json:"enrollmentDate"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

type Class struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Level        string    `json:"level,omitempty"`
	Section      string    `json:"section,omitempty"`
	Description  string    `json:"description,omitempty"`
	StudentCount int       `json:"studentCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Course struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type StudentFilter struct {
	ClassID  *uuid.UUID
	CourseID *uuid.UUID
	Active   *bool
	Query    string
	Page     int
	Limit    int
}

// Offset is the row offset for the filter's page (pages start at 1).
func (f StudentFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

type Repository interface {
	CreateStudent(ctx context.Context, student Student) (Student, error)
	GetStudent(ctx context.Context, id uuid.UUID) (Student, error)
	GetStudentByNumber(ctx context.Context, number int64) (Student, error)
	GetStudentByCard(ctx context.Context, cardID uuid.UUID) (Student, error)
	ListStudents(ctx context.Context, filter StudentFilter) ([]Student, int, error)
	ListActiveStudents(ctx context.Context) ([]Student, error)
	CountStudentsEnrolledOn(ctx context.Context, day time.Time) (int, error)
	CountStudentsInClass(ctx context.Context, classID uuid.UUID) (int, error)
	CountStudentsInCourse(ctx context.Context, courseID uuid.UUID) (int, error)
	UpdateStudent(ctx context.Context, student Student) (Student, error)
	SetStudentActive(ctx context.Context, id uuid.UUID, active bool) (Student, error)

	CreateClass(ctx context.Context, class Class) (Class, error)
	GetClass(ctx context.Context, id uuid.UUID) (Class, error)
	ListClasses(ctx context.Context) ([]Class, error)
	UpdateClass(ctx context.Context, class Class) (Class, error)
	DeleteClass(ctx context.Context, id uuid.UUID) error

	CreateCourse(ctx context.Context, course Course) (Course, error)
	GetCourse(ctx context.Context, id uuid.UUID) (Course, error)
	ListCourses(ctx context.Context) ([]Course, error)
	UpdateCourse(ctx context.Context, course Course) (Course, error)
	DeleteCourse(ctx context.Context, id uuid.UUID) error
}

// AvatarURL returns a generated placeholder avatar for students registered
// without a photo.
func AvatarURL(firstName, lastName, gender string) string {
	seed := url.QueryEscape(firstName + " " + lastName)
	switch gender {
	case "female":
		return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + seed + "&hair=longHairStraight"
	case "male":
		return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + seed + "&hair=shortHairShortFlat"
	default:
		return "https://api.dicebear.com/7.x/identicon/svg?seed=" + seed
	}
}
