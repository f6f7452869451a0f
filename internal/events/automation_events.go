package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/ritahq/automation-mock/config"
	"github.com/ritahq/automation-mock/pkg/uuid"
)

// FragmentType identifies the kind of content a chat response fragment carries
type FragmentType string

const (
	FragmentText      FragmentType = "text"
	FragmentReasoning FragmentType = "reasoning"
	FragmentSources   FragmentType = "sources"
	FragmentTasks     FragmentType = "tasks"
)

// Data-source status values published after a simulated verification/sync job
const (
	DataSourceStatusSuccess       = "success"
	DataSourceStatusSyncCompleted = "sync_completed"
	DataSourceStatusFailed        = "failed"
)

// SourceCitation is one cited document inside a sources fragment
type SourceCitation struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// TaskItem is one entry inside a tasks fragment
type TaskItem struct {
	Title  string `json:"title"`
	Status string `json:"status"` // pending | in_progress | done
}

// ChatResponse is one fragment of a generated chat reply. Fragments of a
// turn share ConversationID/MessageID and carry an increasing Sequence;
// only the last fragment has TurnComplete set.
type ChatResponse struct {
	EventID        string           `json:"event_id"`
	Timestamp      int64            `json:"timestamp"`
	TenantID       string           `json:"tenant_id,omitempty"`
	ConversationID string           `json:"conversation_id"`
	MessageID      string           `json:"message_id"` // the customer message being answered
	FragmentType   FragmentType     `json:"fragment_type"`
	Sequence       int              `json:"sequence"`
	Content        string           `json:"content,omitempty"` // markdown
	Sources        []SourceCitation `json:"sources,omitempty"`
	Tasks          []TaskItem       `json:"tasks,omitempty"`
	TurnComplete   bool             `json:"turn_complete"`
}

// DocumentProcessed reports the (simulated) outcome of document ingestion
type DocumentProcessed struct {
	EventID    string `json:"event_id"`
	Timestamp  int64  `json:"timestamp"`
	TenantID   string `json:"tenant_id,omitempty"`
	DocumentID string `json:"document_id"`
	BlobName   string `json:"blob_name"`
	Status     string `json:"status"` // processing_completed | processing_failed
	Markdown   string `json:"markdown,omitempty"`
}

// DataSourceStatus reports the outcome of a simulated verification or sync
type DataSourceStatus struct {
	EventID      string `json:"event_id"`
	Timestamp    int64  `json:"timestamp"`
	TenantID     string `json:"tenant_id,omitempty"`
	DataSourceID string `json:"data_source_id"`
	Status       string `json:"status"`
}

// Publisher is the queue client surface the event publisher needs. The
// Kafka producer wrapper satisfies it; tests substitute a recorder.
type Publisher interface {
	PublishJSON(topic string, key string, data interface{}) error
}

// AutomationPublisher routes typed automation events onto their topics.
type AutomationPublisher struct {
	producer Publisher
	topics   config.KafkaTopics
	enabled  bool
}

// NewAutomationPublisher creates a new automation event publisher
func NewAutomationPublisher(producer Publisher, topics config.KafkaTopics) *AutomationPublisher {
	enabled := producer != nil
	if enabled {
		log.Println("Automation event publisher initialized (Kafka enabled)")
	} else {
		log.Println("Automation event publisher initialized (Kafka disabled - events will be logged only)")
	}
	return &AutomationPublisher{
		producer: producer,
		topics:   topics,
		enabled:  enabled,
	}
}

// PublishChatResponse publishes one response fragment, keyed by
// conversation so all fragments of a turn land on one partition.
// Publishing is synchronous: callers rely on call order being queue order.
func (p *AutomationPublisher) PublishChatResponse(event *ChatResponse) error {
	p.stamp(&event.EventID, &event.Timestamp)
	p.logEvent("CHAT_RESPONSE", event)
	if !p.enabled {
		return nil
	}
	return p.producer.PublishJSON(p.topics.ChatResponses, event.ConversationID, event)
}

// PublishDocumentProcessed publishes a document ingestion outcome.
func (p *AutomationPublisher) PublishDocumentProcessed(event *DocumentProcessed) error {
	p.stamp(&event.EventID, &event.Timestamp)
	p.logEvent("DOCUMENT_PROCESSED", event)
	if !p.enabled {
		return nil
	}
	return p.producer.PublishJSON(p.topics.DocumentEvents, event.DocumentID, event)
}

// PublishDataSourceStatus publishes a verification/sync outcome.
func (p *AutomationPublisher) PublishDataSourceStatus(event *DataSourceStatus) error {
	p.stamp(&event.EventID, &event.Timestamp)
	p.logEvent("DATA_SOURCE_STATUS", event)
	if !p.enabled {
		return nil
	}
	return p.producer.PublishJSON(p.topics.DataSourceStatus, event.DataSourceID, event)
}

func (p *AutomationPublisher) stamp(eventID *string, timestamp *int64) {
	if *eventID == "" {
		*eventID = uuid.MustNewUUID()
	}
	if *timestamp == 0 {
		*timestamp = time.Now().Unix()
	}
}

func (p *AutomationPublisher) logEvent(kind string, event interface{}) {
	eventJSON, _ := json.Marshal(event)
	log.Printf("EVENT %s: %s", kind, string(eventJSON))
}
