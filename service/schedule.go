package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"strings"
	"time"
	"worker-notes/config"
	"worker-notes/entities"
	"worker-notes/repository"
)

var ErrScheduleComputation = errors.New("schedule computation failed")

// DeferralPolicy is the one deferral rule used for every due time. Courses with a
// class time are due Days calendar days after creation at that time of day; the
// rest are due Interval after creation.
type DeferralPolicy struct {
	Days     int
	Interval time.Duration
	Location *time.Location
}

func NewDeferralPolicy(cfg config.Scheduler) (DeferralPolicy, error) {
	p := DeferralPolicy{
		Days:     cfg.DeferralDays,
		Interval: cfg.DeferralInterval,
		Location: cfg.Location,
	}
	if p.Location == nil && cfg.TimeZone != "" {
		loc, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return DeferralPolicy{}, fmt.Errorf("%w: %v", config.ErrInvalidScheduler, err)
		}
		p.Location = loc
	}
	if err := p.Validate(); err != nil {
		return DeferralPolicy{}, err
	}
	return p, nil
}

func (p DeferralPolicy) Validate() error {
	if p.Days < 1 {
		return fmt.Errorf("%w: deferral days must be at least 1", config.ErrInvalidScheduler)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("%w: deferral interval must be positive", config.ErrInvalidScheduler)
	}
	if p.Location == nil {
		return fmt.Errorf("%w: default time zone is not set", config.ErrInvalidScheduler)
	}
	return nil
}

type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseClassTime accepts "HH:MM" and "HH:MM:SS".
func ParseClassTime(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("%w: invalid class time %q", ErrScheduleComputation, s)
}

func (p DeferralPolicy) location(course *entities.Course) (*time.Location, error) {
	if course.TimeZone == nil || strings.TrimSpace(*course.TimeZone) == "" {
		return p.Location, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(*course.TimeZone))
	if err != nil {
		return nil, fmt.Errorf("%w: unknown time zone %q", ErrScheduleComputation, *course.TimeZone)
	}
	return loc, nil
}

// DueAt computes the due time of an assembly created at createdAt. The result is
// always strictly after createdAt.
func (p DeferralPolicy) DueAt(createdAt time.Time, course *entities.Course) (time.Time, error) {
	if course == nil || course.ClassTime == nil || strings.TrimSpace(*course.ClassTime) == "" {
		return createdAt.Add(p.Interval), nil
	}

	classTime, err := ParseClassTime(*course.ClassTime)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := p.location(course)
	if err != nil {
		return time.Time{}, err
	}

	y, m, d := createdAt.In(loc).Date()
	dueAt := time.Date(y, m, d+p.Days, classTime.Hour, classTime.Minute, classTime.Second, 0, loc)
	if !dueAt.After(createdAt) {
		return time.Time{}, fmt.Errorf("%w: due time %s is not after creation %s", ErrScheduleComputation, dueAt, createdAt)
	}
	return dueAt, nil
}

type Scheduler interface {
	ScheduleAssembly(ctx context.Context, assembly *entities.LectureAssembly) (time.Time, error)
	RescheduleAssembliesFor(ctx context.Context, courseId uuid.UUID) (int, error)
}

type scheduler struct {
	repo   repository.AssemblyRepository
	policy DeferralPolicy
}

func NewScheduler(repo repository.AssemblyRepository, policy DeferralPolicy) Scheduler {
	return &scheduler{
		repo:   repo,
		policy: policy,
	}
}

// ScheduleAssembly computes and stores the due time of a new assembly. On error the
// stored due time is left untouched.
func (s *scheduler) ScheduleAssembly(ctx context.Context, assembly *entities.LectureAssembly) (time.Time, error) {
	course, err := s.repo.FindCourseById(ctx, assembly.CourseId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, errors.Join(ErrScheduleComputation, err)
		}
		return time.Time{}, err
	}

	dueAt, err := s.policy.DueAt(assembly.CreatedAt, course)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("assembly_id", assembly.ID.String()).
			Str("course_id", course.ID.String()).
			Msg("failed to compute due time")
		return time.Time{}, err
	}

	if _, err := s.repo.SetAssemblyDueAt(ctx, assembly.ID, dueAt); err != nil {
		return time.Time{}, err
	}
	assembly.DueAt = &dueAt
	zerolog.Ctx(ctx).Info().
		Str("assembly_id", assembly.ID.String()).
		Time("due_at", dueAt).
		Msg("assembly scheduled")
	return dueAt, nil
}

// RescheduleAssembliesFor recomputes the due time of every ungenerated assembly of the
// course from its own creation time. Nothing is written unless every due time could
// be computed.
func (s *scheduler) RescheduleAssembliesFor(ctx context.Context, courseId uuid.UUID) (int, error) {
	updated := 0
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		course, err := s.repo.FindCourseById(ctx, courseId)
		if err != nil {
			return err
		}

		pending, err := s.repo.ListPendingAssembliesByCourse(ctx, courseId)
		if err != nil {
			return err
		}

		dueTimes := make([]time.Time, len(pending))
		for i, assembly := range pending {
			dueTimes[i], err = s.policy.DueAt(assembly.CreatedAt, course)
			if err != nil {
				return err
			}
		}

		for i, assembly := range pending {
			ok, err := s.repo.SetAssemblyDueAt(ctx, assembly.ID, dueTimes[i])
			if err != nil {
				return err
			}
			if ok {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("course_id", courseId.String()).Msg("failed to reschedule assemblies")
		return 0, err
	}

	zerolog.Ctx(ctx).Info().
		Str("course_id", courseId.String()).
		Int("updated", updated).
		Msg("assemblies rescheduled")
	return updated, nil
}
