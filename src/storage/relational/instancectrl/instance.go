package instancectrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Kind string

const (
	KindChat    Kind = "chat"
	KindDocChat Kind = "doc_chat"
)

const (
	DefaultTopic  = "New Chat"
	NoDocument    = "none"
	NoDocFileName = "none"
)

var (
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrOwnedByOtherTenant is returned when an instance id is already taken
	// by another tenant. Instance ids are unique per kind across tenants.
	ErrOwnedByOtherTenant = errors.New("instance id is owned by another tenant")
)

// Instance is one row of the instance list shared by all tenants.
type Instance struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TenantID    string    `gorm:"size:128;not null;index" json:"tenant_id"`
	Kind        Kind      `gorm:"size:16;not null;uniqueIndex:idx_instances_kind_instance,priority:1" json:"kind"`
	InstanceID  string    `gorm:"size:128;not null;uniqueIndex:idx_instances_kind_instance,priority:2" json:"instance_id"`
	Topic       string    `gorm:"size:512;not null" json:"topic"`
	Active      bool      `gorm:"not null" json:"active"`
	Pinned      bool      `gorm:"not null" json:"pinned"`
	DocFileName string    `gorm:"size:512;not null" json:"doc_file_name"`
	DocType     string    `gorm:"size:8;not null" json:"doc_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Instance) TableName() string { return "instances" }

// HasDocument reports whether a document was recorded for the instance.
func (i *Instance) HasDocument() bool {
	return i.DocType != "" && i.DocType != NoDocument
}

// DefaultNodeID is the snowflake node used when none is configured.
const DefaultNodeID int64 = 1

type InstanceService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

type Option func(*options)

type options struct {
	nodeID int64
}

// WithNodeID sets the snowflake node for row ids.
func WithNodeID(id int64) Option {
	return func(o *options) { o.nodeID = id }
}

func NewInstanceService(db *gorm.DB, opts ...Option) (*InstanceService, error) {
	o := options{nodeID: DefaultNodeID}
	for _, opt := range opts {
		opt(&o)
	}

	node, err := snowflake.NewNode(o.nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &InstanceService{
		db:        db,
		snowflake: node,
	}, nil
}

// Create inserts a new instance row. Creating an instance that the tenant
// already owns returns the existing row.
func (s *InstanceService) Create(ctx context.Context, tenantID string, kind Kind, instanceID, topic string) (*Instance, error) {
	existing, err := s.Get(ctx, kind, instanceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.TenantID != tenantID {
			return nil, ErrOwnedByOtherTenant
		}
		return existing, nil
	}

	if topic == "" {
		topic = DefaultTopic
	}
	inst := s.newInstance(tenantID, kind, instanceID)
	inst.Topic = topic

	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		// lost a race against a concurrent create of the same id
		if again, getErr := s.Get(ctx, kind, instanceID); getErr == nil && again != nil {
			if again.TenantID != tenantID {
				return nil, ErrOwnedByOtherTenant
			}
			return again, nil
		}
		return nil, fmt.Errorf("failed to create instance: %v", err)
	}

	return inst, nil
}

// Get returns the instance or nil when it does not exist.
func (s *InstanceService) Get(ctx context.Context, kind Kind, instanceID string) (*Instance, error) {
	var inst Instance
	result := s.db.WithContext(ctx).
		Where("kind = ? AND instance_id = ?", kind, instanceID).
		Take(&inst)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get instance: %v", result.Error)
	}
	return &inst, nil
}

// UpsertDocument records the ingested document on the tenant's doc-chat
// instance, claiming the instance id on first upload. It fails with
// ErrOwnedByOtherTenant and leaves the row untouched when another tenant
// owns the id.
func (s *InstanceService) UpsertDocument(ctx context.Context, tenantID, instanceID, fileName, docType string) error {
	updated, err := s.updateDocument(ctx, tenantID, instanceID, fileName, docType)
	if err != nil || updated {
		return err
	}

	if _, err := s.Create(ctx, tenantID, KindDocChat, instanceID, fileName); err != nil {
		return err
	}
	updated, err = s.updateDocument(ctx, tenantID, instanceID, fileName, docType)
	if err != nil {
		return err
	}
	if !updated {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *InstanceService) updateDocument(ctx context.Context, tenantID, instanceID, fileName, docType string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&Instance{}).
		Where("tenant_id = ? AND kind = ? AND instance_id = ?", tenantID, KindDocChat, instanceID).
		Updates(map[string]interface{}{
			"topic":         fileName,
			"doc_file_name": fileName,
			"doc_type":      docType,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to record document: %v", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ClearDocument resets the document fields of a doc-chat instance.
func (s *InstanceService) ClearDocument(ctx context.Context, instanceID string) error {
	result := s.db.WithContext(ctx).Model(&Instance{}).
		Where("kind = ? AND instance_id = ?", KindDocChat, instanceID).
		Updates(map[string]interface{}{
			"doc_file_name": NoDocFileName,
			"doc_type":      NoDocument,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to clear document: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *InstanceService) UpdateTopic(ctx context.Context, tenantID string, kind Kind, instanceID, topic string) error {
	result := s.db.WithContext(ctx).Model(&Instance{}).
		Where("tenant_id = ? AND kind = ? AND instance_id = ?", tenantID, kind, instanceID).
		Update("topic", topic)
	if result.Error != nil {
		return fmt.Errorf("failed to update topic: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *InstanceService) Delete(ctx context.Context, tenantID string, kind Kind, instanceID string) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND kind = ? AND instance_id = ?", tenantID, kind, instanceID).
		Delete(&Instance{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete instance: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// ListByKind returns every instance of kind across tenants, oldest first.
func (s *InstanceService) ListByKind(ctx context.Context, kind Kind) ([]Instance, error) {
	var instances []Instance
	result := s.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("created_at ASC, id ASC").
		Find(&instances)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list instances: %v", result.Error)
	}
	return instances, nil
}

func (s *InstanceService) newInstance(tenantID string, kind Kind, instanceID string) *Instance {
	return &Instance{
		ID:          s.snowflake.Generate().Int64(),
		TenantID:    tenantID,
		Kind:        kind,
		InstanceID:  instanceID,
		Topic:       DefaultTopic,
		Active:      true,
		Pinned:      false,
		DocFileName: NoDocFileName,
		DocType:     NoDocument,
	}
}
