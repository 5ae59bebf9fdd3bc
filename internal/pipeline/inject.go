package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/voicewire/gateway/internal/frame"
	"github.com/voicewire/gateway/internal/metrics"
	"github.com/voicewire/gateway/internal/orders"
)

// Intent is the three-way classification of a user turn.
type Intent int

const (
	IntentNone Intent = iota
	IntentOrderNoID
	IntentOrderWithID
)

var orderKeywords = []string{
	"order status",
	"track my order",
	"check my order",
	"order update",
}

// orderNumberRe matches explicit forms like "order number is 1003",
// "order #1003", "order no. 1003", "order 1003".
var orderNumberRe = regexp.MustCompile(`(?i)order\s*(?:number|no\.?|#)?(?:\s*(?:is|:))?\s*(\d{3,})`)

// standaloneNumberRe is the fallback: any standalone run of 3+ digits.
// Three digits keeps order numbers like 1003 while ignoring small counts.
var standaloneNumberRe = regexp.MustCompile(`\b(\d{3,})\b`)

var orderStatusWordRe = regexp.MustCompile(`(?i)\border\b`)
var statusWordRe = regexp.MustCompile(`(?i)\bstatus\b`)

// ClassifyIntent is a pure function of the turn's text: the same text
// always yields the same intent and extracted identifier.
func ClassifyIntent(text string) (Intent, int) {
	if m := orderNumberRe.FindStringSubmatch(text); m != nil {
		if id, err := strconv.Atoi(m[1]); err == nil {
			return IntentOrderWithID, id
		}
	}

	hasIntent := orderStatusWordRe.MatchString(text) && statusWordRe.MatchString(text)
	if !hasIntent {
		lower := strings.ToLower(text)
		for _, kw := range orderKeywords {
			if strings.Contains(lower, kw) {
				hasIntent = true
				break
			}
		}
	}

	if hasIntent {
		if id, ok := standaloneID(text); ok {
			return IntentOrderWithID, id
		}
		return IntentOrderNoID, 0
	}
	return IntentNone, 0
}

// standaloneID extracts a bare 3+ digit run from text.
func standaloneID(text string) (int, bool) {
	m := standaloneNumberRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	return id, err == nil
}

// KnowledgeInjector watches user turns for order-status intent and injects
// system notes with looked-up record details. Lookups run with a bounded
// context; timeouts and storage errors collapse into the not-found note so
// no raw error ever reaches the model or the client.
type KnowledgeInjector struct {
	store   orders.Store
	timeout time.Duration

	awaitingID  bool
	lastOrderID int
	lastNotes   map[string]string
}

// NewKnowledgeInjector creates the injector stage. A nil store disables
// lookups: order intent then always yields the ask-for-number note.
func NewKnowledgeInjector(store orders.Store, timeout time.Duration) *KnowledgeInjector {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &KnowledgeInjector{
		store:     store,
		timeout:   timeout,
		lastNotes: make(map[string]string),
	}
}

func (k *KnowledgeInjector) Name() string { return "knowledge" }

func (k *KnowledgeInjector) Process(ctx context.Context, f frame.Frame) ([]frame.Frame, error) {
	turn, ok := f.(frame.TextTurn)
	if !ok || turn.Role != frame.RoleUser || !turn.Final || turn.Text == "" {
		return []frame.Frame{f}, nil
	}

	intent, id := ClassifyIntent(turn.Text)

	// After asking for the order number, a follow-up turn often carries
	// just the digits ("it's 1003") with no order keywords. Treat any bare
	// number as the awaited identifier until a lookup resolves it.
	if intent == IntentNone && k.awaitingID {
		if n, ok := standaloneID(turn.Text); ok {
			intent, id = IntentOrderWithID, n
		}
	}

	switch intent {
	case IntentOrderWithID:
		if note, emitted := k.lookupNote(ctx, id); emitted {
			return []frame.Frame{note, f}, nil
		}
	case IntentOrderNoID:
		if !k.awaitingID {
			k.awaitingID = true
			if note, emitted := k.note("order-intent",
				"The user asked for an order status but has not yet provided an order number. "+
					"Ask directly for the order number, mentioning you need it to fetch accurate details."); emitted {
				return []frame.Frame{note, f}, nil
			}
		}
	}
	return []frame.Frame{f}, nil
}

// lookupNote resolves the order number and builds the matching note.
// Repeating the same number does not repeat the lookup or the note.
func (k *KnowledgeInjector) lookupNote(ctx context.Context, id int) (frame.Frame, bool) {
	if id == k.lastOrderID {
		return nil, false
	}
	k.lastOrderID = id

	if k.store == nil {
		return k.notFoundNote(id)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	start := time.Now()
	order, err := k.store.Lookup(lookupCtx, id)
	metrics.LookupDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		// A miss leaves awaitingID set: the not-found note asks for
		// another number, so the next bare number is still an identifier.
		k.awaitingID = false
		return k.note("order-lookup", foundNote(id, order))
	case errors.Is(err, orders.ErrNotFound):
		metrics.LookupFailures.WithLabelValues("not_found").Inc()
		return k.notFoundNote(id)
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("order lookup timed out", "order_id", id, "timeout", k.timeout)
		metrics.LookupFailures.WithLabelValues("timeout").Inc()
		return k.notFoundNote(id)
	default:
		slog.Error("order lookup failed", "order_id", id, "error", err)
		metrics.LookupFailures.WithLabelValues("error").Inc()
		return k.notFoundNote(id)
	}
}

func (k *KnowledgeInjector) notFoundNote(id int) (frame.Frame, bool) {
	return k.note("order-not-found", fmt.Sprintf(
		"No order was found with number %d. Tell the user you couldn't locate that order, "+
			"and politely ask them to confirm the digits or share a different order number. "+
			"Do not guess any details.", id))
}

func foundNote(id int, order *orders.Order) string {
	return fmt.Sprintf(
		"Order lookup result for order number %d:\n%s\n"+
			"Use ONLY this data when responding. State the order status and delivery "+
			"expectation exactly as shown, and mention key items only if needed. "+
			"Never invent additional products, dates, or amounts. Hint for tone: %s",
		id, orders.FormatDetails(order), orders.StatusSummary(order))
}

// note deduplicates by tag: re-emitting an identical note for the same tag
// is suppressed until the content changes.
func (k *KnowledgeInjector) note(tag, text string) (frame.Frame, bool) {
	if k.lastNotes[tag] == text {
		return nil, false
	}
	k.lastNotes[tag] = text
	return frame.SystemNote{Text: text}, true
}
