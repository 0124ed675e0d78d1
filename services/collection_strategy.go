package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"coinsync/config"
	"coinsync/models"

	"gorm.io/gorm"
)

// TriggerKind is the closed set of inbound events coinsync understands.
type TriggerKind int

const (
	TriggerUnsupported TriggerKind = iota
	TriggerModuleCompleted
	TriggerCourseCompleted
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerModuleCompleted:
		return "module_completed"
	case TriggerCourseCompleted:
		return "course_completed"
	case TriggerUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("trigger(%d)", int(k))
}

// MarshalText encodes the kind as its name.
func (k TriggerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name. Unknown names decode to
// TriggerUnsupported so they are ignored rather than rejected.
func (k *TriggerKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "module_completed":
		*k = TriggerModuleCompleted
	case "course_completed":
		*k = TriggerCourseCompleted
	default:
		*k = TriggerUnsupported
	}
	return nil
}

// OwnComponent marks events raised by coinsync itself.
const OwnComponent = "coinsync"

// TriggerEvent is a host event as seen by the collection strategy.
// UserID is the actor; RelatedUserID, when set, is the user the event is
// about (an instructor marking a learner's module complete).
type TriggerEvent struct {
	Kind          TriggerKind `json:"kind"`
	Component     string      `json:"component"`
	UserID        uint        `json:"user_id"`
	RelatedUserID uint        `json:"related_user_id,omitempty"`
	ContextLevel  int         `json:"context_level"`
	ContextID     uint        `json:"context_id"`
	CourseID      uint        `json:"course_id"`
	ModuleID      uint        `json:"module_id,omitempty"`
	Anonymous     bool        `json:"anonymous"`
	Restored      bool        `json:"restored"`
}

// Subject returns the user who should earn from the event.
func (e TriggerEvent) Subject() uint {
	if e.RelatedUserID != 0 {
		return e.RelatedUserID
	}
	return e.UserID
}

// CapabilityChecker decides whether a user may earn coins in a context.
type CapabilityChecker interface {
	CanEarn(ctx context.Context, user *models.User, contextID uint) (bool, error)
}

// DBCapabilityChecker allows active, non-system users. Admins are excluded
// unless ExcludeAdmins is off.
type DBCapabilityChecker struct {
	ExcludeAdmins bool
}

func (c DBCapabilityChecker) CanEarn(_ context.Context, user *models.User, _ uint) (bool, error) {
	if user.IsSystem || !user.Active() {
		return false, nil
	}
	if c.ExcludeAdmins && user.IsAdmin {
		return false, nil
	}
	return true, nil
}

// awarder is the part of AwardPipeline the strategy drives.
type awarder interface {
	HasBeenRecordedPreviously(ctx context.Context, userID, contextID uint, actionName, actionHash string) (bool, error)
	Give(ctx context.Context, req AwardRequest) (bool, error)
}

// CollectionStrategy turns completion events into awards. It keeps no state
// of its own: an event either reaches the award pipeline or is dropped.
type CollectionStrategy struct {
	Config       *config.Config
	DB           *gorm.DB
	Calculator   *CoinsCalculator
	Awards       awarder
	Capabilities CapabilityChecker
}

// Register subscribes the strategy to trigger events on bus.
func (s *CollectionStrategy) Register(bus *EventBus) func() {
	return bus.Subscribe(EventTrigger, func(ctx context.Context, ev Event) {
		trigger, ok := ev.Payload.(TriggerEvent)
		if !ok {
			return
		}
		if _, err := s.Collect(ctx, trigger); err != nil {
			log.Printf("[COLLECT] %s for user %d: %v", trigger.Kind, trigger.Subject(), err)
		}
	})
}

// Collect handles one event and reports whether coins were credited.
func (s *CollectionStrategy) Collect(ctx context.Context, ev TriggerEvent) (bool, error) {
	if !s.Config.Enabled || s.Config.Paused {
		return false, nil
	}
	if !s.accepts(ev) {
		return false, nil
	}

	var (
		coins      int
		actionName string
		actionHash string
		err        error
	)
	switch ev.Kind {
	case TriggerModuleCompleted:
		if ev.ModuleID == 0 {
			return false, nil
		}
		coins, err = s.Calculator.CoinsForModule(ctx, ev.CourseID, ev.ModuleID)
		actionName = "module_completed"
		actionHash = HashAction(ev.CourseID, ev.ModuleID)
	case TriggerCourseCompleted:
		coins, err = s.Calculator.CoinsForCourse(ctx, ev.CourseID)
		actionName = "course_completed"
		actionHash = HashAction(ev.CourseID)
	case TriggerUnsupported:
		return false, nil
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if coins <= 0 {
		return false, nil
	}

	subject := ev.Subject()
	user, err := s.loadUser(ctx, subject)
	if err != nil || user == nil {
		return false, err
	}
	allowed, err := s.capabilities().CanEarn(ctx, user, ev.ContextID)
	if err != nil || !allowed {
		return false, err
	}

	seen, err := s.Awards.HasBeenRecordedPreviously(ctx, subject, ev.ContextID, actionName, actionHash)
	if err != nil || seen {
		return false, err
	}

	return s.Awards.Give(ctx, AwardRequest{
		UserID:     subject,
		ContextID:  ev.ContextID,
		ActionName: actionName,
		ActionHash: actionHash,
		Coins:      coins,
		Reason:     completionReason(ev),
	})
}

func (s *CollectionStrategy) accepts(ev TriggerEvent) bool {
	switch {
	case ev.Component == OwnComponent:
		return false
	case ev.Anonymous:
		return false
	case ev.Restored:
		return false
	case ev.Subject() == 0:
		return false
	case !s.Config.ContextLevelAllowed(ev.ContextLevel):
		return false
	}
	return true
}

func (s *CollectionStrategy) loadUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	return &user, nil
}

func (s *CollectionStrategy) capabilities() CapabilityChecker {
	if s.Capabilities != nil {
		return s.Capabilities
	}
	return DBCapabilityChecker{ExcludeAdmins: s.Config.ExcludeAdmins}
}

func completionReason(ev TriggerEvent) *Reason {
	switch ev.Kind {
	case TriggerModuleCompleted:
		return &Reason{
			Template: "reason_module_completed",
			Args: map[string]string{
				"course_id": fmt.Sprint(ev.CourseID),
				"module_id": fmt.Sprint(ev.ModuleID),
			},
		}
	case TriggerCourseCompleted:
		return &Reason{
			Template: "reason_course_completed",
			Args:     map[string]string{"course_id": fmt.Sprint(ev.CourseID)},
		}
	}
	return nil
}
