package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/teleprompt/teleprompt/pkg/logger"
)

// Janitor discards a payload that has sat undrained past a configured age,
// checked on a cron schedule. Disabled unless both a schedule and a max age
// are configured: by default a payload is held resident until drained.
type Janitor struct {
	box      *Mailbox
	schedule string
	maxAge   time.Duration
	gron     *gronx.Gronx
}

func NewJanitor(box *Mailbox, schedule string, maxAge time.Duration) (*Janitor, error) {
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return nil, fmt.Errorf("invalid expiry schedule %q", schedule)
	}
	return &Janitor{
		box:      box,
		schedule: schedule,
		maxAge:   maxAge,
		gron:     gron,
	}, nil
}

// Run sweeps once per minute, clearing the slot when the schedule is due and
// the resident payload is older than maxAge. Blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := j.gron.IsDue(j.schedule, now)
			if err != nil || !due {
				continue
			}
			cutoff := now.Add(-j.maxAge).UnixMilli()
			if j.box.Expire(cutoff) {
				logger.InfoCF("mailbox", "Expired stale payload", map[string]interface{}{
					"max_age": j.maxAge.String(),
				})
			}
		}
	}
}
