package messagectrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrDuplicateMessage = errors.New("message id already exists in namespace")

// Message is one conversation turn. All conversations share the messages
// table and are partitioned by Namespace. Seq is a snowflake id: it is the
// primary key and the sort order, and it grows monotonically within a process
// even when two messages land in the same clock tick.
type Message struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement:false;index:idx_messages_namespace_seq,priority:2" json:"seq"`
	Namespace string    `gorm:"size:64;not null;uniqueIndex:idx_messages_namespace_message,priority:1;index:idx_messages_namespace_seq,priority:1" json:"-"`
	MessageID string    `gorm:"size:128;not null;uniqueIndex:idx_messages_namespace_message,priority:2" json:"message_id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	IsHuman   bool      `gorm:"not null" json:"is_human"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// IndexEntry is a named bookmark onto a human message of a plain chat.
type IndexEntry struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Namespace string    `gorm:"size:64;not null;index" json:"-"`
	IndexID   string    `gorm:"size:128;not null" json:"index_id"`
	IndexName string    `gorm:"size:512;not null" json:"index_name"`
	CreatedAt time.Time `json:"created_at"`
}

func (IndexEntry) TableName() string { return "chat_index_entries" }

// DefaultNodeID is the snowflake node used when none is configured.
const DefaultNodeID int64 = 2

type MessageService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

type Option func(*options)

type options struct {
	nodeID int64
}

// WithNodeID sets the snowflake node. Replicas sharing a database need
// distinct node ids so their sequences never collide.
func WithNodeID(id int64) Option {
	return func(o *options) { o.nodeID = id }
}

func NewMessageService(db *gorm.DB, opts ...Option) (*MessageService, error) {
	o := options{nodeID: DefaultNodeID}
	for _, opt := range opts {
		opt(&o)
	}

	node, err := snowflake.NewNode(o.nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &MessageService{
		db:        db,
		snowflake: node,
	}, nil
}

// Append stores msg under namespace and fills in Seq and Namespace.
func (s *MessageService) Append(ctx context.Context, namespace string, msg *Message) error {
	var existing int64
	if err := s.db.WithContext(ctx).Model(&Message{}).
		Where("namespace = ? AND message_id = ?", namespace, msg.MessageID).
		Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check message: %v", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.MessageID)
	}

	msg.Seq = s.snowflake.Generate().Int64()
	msg.Namespace = namespace

	return s.insert(ctx, msg)
}

// insert relies on the unique index when a concurrent append of the same id
// passed the check above.
func (s *MessageService) insert(ctx context.Context, msg *Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.MessageID)
		}
		return fmt.Errorf("failed to create message: %v", err)
	}
	return nil
}

// ListOrdered returns the conversation oldest first. An unknown namespace
// yields an empty slice.
func (s *MessageService) ListOrdered(ctx context.Context, namespace string) ([]Message, error) {
	messages := []Message{}
	result := s.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("seq ASC").
		Find(&messages)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list messages: %v", result.Error)
	}
	return messages, nil
}

// DeleteNamespace removes a whole conversation and returns the number of
// deleted messages.
func (s *MessageService) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	result := s.db.WithContext(ctx).Where("namespace = ?", namespace).Delete(&Message{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete messages: %v", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *MessageService) AppendIndex(ctx context.Context, namespace, indexID, indexName string) (*IndexEntry, error) {
	entry := &IndexEntry{
		Seq:       s.snowflake.Generate().Int64(),
		Namespace: namespace,
		IndexID:   indexID,
		IndexName: indexName,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create index entry: %v", err)
	}
	return entry, nil
}

func (s *MessageService) ListIndex(ctx context.Context, namespace string) ([]IndexEntry, error) {
	entries := []IndexEntry{}
	result := s.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("seq ASC").
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list index entries: %v", result.Error)
	}
	return entries, nil
}

func (s *MessageService) DeleteIndexNamespace(ctx context.Context, namespace string) (int64, error) {
	result := s.db.WithContext(ctx).Where("namespace = ?", namespace).Delete(&IndexEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete index entries: %v", result.Error)
	}
	return result.RowsAffected, nil
}
