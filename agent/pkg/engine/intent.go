package engine

import (
	"regexp"
	"strings"

	"github.com/malbeclabs/salesdesk/agent/pkg/session"
)

// Intent is the routing tag assigned to an incoming message before any
// query generation is attempted.
type Intent string

const (
	IntentConversational Intent = "conversational"
	IntentElaboration    Intent = "elaboration"
	IntentFollowUp       Intent = "follow_up"
	IntentAnalytical     Intent = "analytical"
	IntentLookup         Intent = "lookup"
)

var (
	greetingRe   = regexp.MustCompile(`^(hi|hello|hey|good morning|greetings)( there| everyone)?[\s!.]*$`)
	thanksRe     = regexp.MustCompile(`^(thanks|thank you|ok|great|cool)[\s!.]*$`)
	greetPrefix  = regexp.MustCompile(`^(hi|hello|hey)`)
	analyticalRe = regexp.MustCompile(`\b(why|how|explain|cause)\b`)
	followUpRe   = regexp.MustCompile(`\b(now|same|also|only|filter|breakdown|by|for|last|previous|compare|trend)\b`)

	elaborationRes = []*regexp.Regexp{
		regexp.MustCompile(`^(explain|tell me)\s+(more|detail)`),
		regexp.MustCompile(`^elaborate`),
		regexp.MustCompile(`^why is that`),
		regexp.MustCompile(`^more\?`),
	}
)

// intentRule pairs a predicate with the tag it assigns. Rules are
// evaluated strictly in order; the first match wins.
type intentRule struct {
	intent Intent
	match  func(msg string, state session.State) bool
}

var intentRules = []intentRule{
	{IntentConversational, func(msg string, _ session.State) bool {
		return isConversational(msg)
	}},
	{IntentElaboration, func(msg string, state session.State) bool {
		// Without a prior answer there is nothing to elaborate on; the
		// message falls through to the plain-lookup path.
		return isElaboration(msg) && state.LastAnswer != ""
	}},
	{IntentFollowUp, func(msg string, state session.State) bool {
		return followUpRe.MatchString(msg) && state.HasPriorTurn()
	}},
	{IntentAnalytical, func(msg string, _ session.State) bool {
		return analyticalRe.MatchString(msg)
	}},
}

// Classify assigns an intent to a message given the conversation's state.
// Precedence is fixed: conversational, elaboration, follow-up, analytical,
// then the lookup default.
func Classify(message string, state session.State) Intent {
	msg := strings.ToLower(strings.TrimSpace(message))
	for _, rule := range intentRules {
		if rule.match(msg, state) {
			return rule.intent
		}
	}
	return IntentLookup
}

// IsAnalytical reports whether a message asks a causal or explanatory
// question. Checked against the original message text, independent of any
// follow-up rewriting, to decide whether the reasoning pipeline runs.
func IsAnalytical(message string) bool {
	return analyticalRe.MatchString(strings.ToLower(strings.TrimSpace(message)))
}

func isConversational(msg string) bool {
	if greetingRe.MatchString(msg) || thanksRe.MatchString(msg) {
		return true
	}
	return strings.Contains(msg, "who are you") || strings.Contains(msg, "help me")
}

func isElaboration(msg string) bool {
	for _, re := range elaborationRes {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// ConversationalAnswer returns the static reply for a conversational
// message, keyed by sub-pattern. No model call or query is involved.
func ConversationalAnswer(message string) string {
	msg := strings.ToLower(strings.TrimSpace(message))
	switch {
	case greetPrefix.MatchString(msg):
		return "Hello! I'm your sales analytics assistant. How can I help you today?"
	case strings.Contains(msg, "thank"):
		return "You're welcome!"
	case strings.Contains(msg, "who are you"):
		return "I'm an AI assistant for your sales data."
	default:
		return "I'm here to help with your analytics."
	}
}
