package services

import (
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/ritahq/automation-mock/config"
	"github.com/ritahq/automation-mock/internal/events"
)

// ChatPublisher is the slice of the event publisher the responder uses.
type ChatPublisher interface {
	PublishChatResponse(event *events.ChatResponse) error
}

// Fragment is one piece of a generated reply before it is stamped into a
// queue message.
type Fragment struct {
	Type    events.FragmentType
	Content string
	Sources []events.SourceCitation
	Tasks   []events.TaskItem
}

// Scenario names accepted by ResponderConfig.DefaultScenario.
const (
	ScenarioSuccess    = "success"
	ScenarioFailure    = "failure"
	ScenarioProcessing = "processing"
	ScenarioRandom     = "random"
)

// Responder expands a customer message into an ordered list of typed
// fragments and publishes them with chained delays. It is a fixture
// generator: output is a pure function of trigger substrings in the
// message plus the configured default scenario, with no conversation
// memory.
type Responder struct {
	publisher ChatPublisher
	scheduler Scheduler
	cfg       config.ResponderConfig
	randFloat func() float64
}

func NewResponder(publisher ChatPublisher, scheduler Scheduler, cfg config.ResponderConfig) *Responder {
	return &Responder{
		publisher: publisher,
		scheduler: scheduler,
		cfg:       cfg,
		randFloat: rand.Float64,
	}
}

// trigger table, matched in order; the first match wins.
var triggers = []struct {
	phrase string
	build  func() []Fragment
}{
	{"test1", func() []Fragment {
		return []Fragment{textFragment(cannedResolution)}
	}},
	{"test2", func() []Fragment {
		return []Fragment{reasoningFragment(), textFragment(cannedResolution)}
	}},
	{"test3", func() []Fragment {
		return []Fragment{sourcesFragment(), textFragment(cannedResolution)}
	}},
	{"test4", func() []Fragment {
		return []Fragment{tasksFragment(), textFragment(cannedResolution)}
	}},
	{"test5", func() []Fragment {
		return []Fragment{reasoningFragment(), sourcesFragment(), tasksFragment(), textFragment(cannedResolution)}
	}},
}

// Generate expands a customer message into its fragment sequence.
func (r *Responder) Generate(customerMessage string) []Fragment {
	needle := strings.ToLower(customerMessage)

	for _, t := range triggers {
		if strings.Contains(needle, t.phrase) {
			return t.build()
		}
	}

	scenario := r.cfg.DefaultScenario
	if scenario == ScenarioRandom {
		if r.randFloat() < r.cfg.SuccessProbability {
			scenario = ScenarioSuccess
		} else {
			scenario = ScenarioFailure
		}
	}

	switch scenario {
	case ScenarioFailure:
		return []Fragment{textFragment(cannedFailure)}
	case ScenarioProcessing:
		return []Fragment{textFragment(cannedProcessing)}
	default:
		return []Fragment{reasoningFragment(), textFragment(cannedResolution)}
	}
}

// Respond schedules the asynchronous publication of the generated
// fragments. The request path returns immediately; fragments go out in
// generation order via chained Schedule calls, the blunt-but-deliberate
// ordering defense for transports that may reorder close-together messages.
func (r *Responder) Respond(tenantID, conversationID, messageID, customerMessage string) {
	fragments := r.Generate(customerMessage)

	initial := time.Duration(r.cfg.InitialDelayMs) * time.Millisecond
	r.scheduler.Schedule(initial, func() {
		r.publishChain(tenantID, conversationID, messageID, fragments, 0)
	})
}

func (r *Responder) publishChain(tenantID, conversationID, messageID string, fragments []Fragment, idx int) {
	if idx >= len(fragments) {
		return
	}

	f := fragments[idx]
	event := &events.ChatResponse{
		TenantID:       tenantID,
		ConversationID: conversationID,
		MessageID:      messageID,
		FragmentType:   f.Type,
		Sequence:       idx,
		Content:        f.Content,
		Sources:        f.Sources,
		Tasks:          f.Tasks,
		TurnComplete:   idx == len(fragments)-1,
	}

	if err := r.publisher.PublishChatResponse(event); err != nil {
		log.Printf("responder: publish failed for conversation %s fragment %d: %v", conversationID, idx, err)

		// One compensating attempt: close the turn with a failure reply so
		// the consumer is not left waiting for an end-of-turn marker.
		fallback := &events.ChatResponse{
			TenantID:       tenantID,
			ConversationID: conversationID,
			MessageID:      messageID,
			FragmentType:   events.FragmentText,
			Sequence:       idx,
			Content:        cannedFailure,
			TurnComplete:   true,
		}
		if err := r.publisher.PublishChatResponse(fallback); err != nil {
			log.Printf("responder: fallback publish failed for conversation %s: %v", conversationID, err)
		}
		return
	}

	if idx+1 < len(fragments) {
		gap := time.Duration(r.cfg.FragmentGapMs) * time.Millisecond
		r.scheduler.Schedule(gap, func() {
			r.publishChain(tenantID, conversationID, messageID, fragments, idx+1)
		})
	}
}

func textFragment(content string) Fragment {
	return Fragment{Type: events.FragmentText, Content: content}
}

func reasoningFragment() Fragment {
	return Fragment{Type: events.FragmentReasoning, Content: cannedReasoning}
}

func sourcesFragment() Fragment {
	return Fragment{
		Type: events.FragmentSources,
		Sources: []events.SourceCitation{
			{Title: "KB0010231 - VPN connection drops on wireless docks", URL: "https://kb.example.com/KB0010231", Snippet: "Known issue with dock firmware below 1.4.2; update resolves intermittent drops."},
			{Title: "KB0009847 - Resetting the Cisco AnyConnect profile", URL: "https://kb.example.com/KB0009847", Snippet: "Delete the cached profile and re-import from the portal."},
		},
	}
}

func tasksFragment() Fragment {
	return Fragment{
		Type: events.FragmentTasks,
		Tasks: []events.TaskItem{
			{Title: "Collect device diagnostics", Status: "done"},
			{Title: "Check VPN gateway health", Status: "done"},
			{Title: "Apply remediation script", Status: "in_progress"},
		},
	}
}

var cannedReasoning = strings.TrimSpace(`
Looking at the ticket description, the symptoms point at a client-side
configuration problem rather than an outage. The monitoring dashboard shows
the VPN gateways healthy for the last 24 hours, and no related incidents are
open for this tenant.
`)

var cannedResolution = strings.TrimSpace(`
### Suggested resolution

Based on the reported symptoms this looks like a stale VPN client profile.

1. Ask the user to sign out of the VPN client completely.
2. Delete the cached connection profile.
3. Re-import the profile from the self-service portal.

If the problem persists after these steps, escalate to the network team with
the diagnostics bundle attached.
`)

var cannedFailure = strings.TrimSpace(`
I wasn't able to complete the analysis for this request. The automation
backend reported an internal error while gathering context. Please retry, or
route the ticket to an agent for manual handling.
`)

var cannedProcessing = strings.TrimSpace(`
I'm still working on this request. Gathering related incidents and knowledge
base articles can take a little while; you'll receive the full answer in
this conversation as soon as it is ready.
`)
