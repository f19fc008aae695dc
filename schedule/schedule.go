package schedule

import (
	"fmt"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
)

// Schedule is a cron-driven trigger definition for one target.
type Schedule struct {
	ID       id.ScheduleID `json:"id"`
	Target   core.Target   `json:"target"`
	Expr     string        `json:"expr"`
	Timezone string        `json:"timezone"`
	IsActive bool          `json:"is_active"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the schedule is tombstoned.
func (s *Schedule) Deleted() bool { return s.DeletedAt != nil }

// TriggerKey derives the trigger row key for a schedule. One trigger row
// exists per active, non-deleted schedule; keying by schedule id makes
// re-registration idempotent.
func TriggerKey(scheduleID id.ScheduleID) string {
	return fmt.Sprintf("schedule_%s", scheduleID)
}

// Trigger is the durable job-store row behind an active schedule. It
// carries everything a fire needs, so firing never re-reads the schedule.
type Trigger struct {
	Key        string        `json:"key"`
	ScheduleID id.ScheduleID `json:"schedule_id"`
	Target     core.Target   `json:"target"`
	Expr       string        `json:"expr"`
	Timezone   string        `json:"timezone"`
	NextFireAt time.Time     `json:"next_fire_at"`
	LastFireAt *time.Time    `json:"last_fire_at,omitempty"`
}
