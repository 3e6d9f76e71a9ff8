package ruleset

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/store"
)

func TestLoadFileYAML(t *testing.T) {
	rules, err := LoadFile("testdata/leads.yaml")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	hot := rules[0]
	assert.Equal(t, "hot-lead-follow-up", hot.ID)
	assert.Equal(t, automation.RuleStatusActive, hot.Status)
	assert.Equal(t, automation.TriggerLeadCreated, hot.Trigger.Type)
	assert.Equal(t, automation.Conditions{"status": "HOT"}, hot.Conditions)
	sorted := hot.SortedActions()
	require.Len(t, sorted, 2)
	assert.Equal(t, automation.ActionSendMessage, sorted[0].Type)
	assert.Equal(t, "chat", sorted[0].Config["channel"])

	digest := rules[1]
	assert.Equal(t, automation.RuleStatusPaused, digest.Status)
	assert.Equal(t, "0 21 * * *", digest.Trigger.Config["cron"])
	require.NotNil(t, digest.Actions[0].Retry)
	assert.Equal(t, 3, digest.Actions[0].Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, digest.Actions[0].Retry.Backoff)
	assert.Equal(t, 5*time.Second, digest.Actions[0].Retry.MaxBackoff)
}

func TestLoadJSON(t *testing.T) {
	doc := `{"rules":[{"id":"r1","name":"price watch","trigger":{"type":"PRICE_CHANGED"},
		"conditions":{"city":"TLV","rooms":4},
		"actions":[{"type":"SEND_NOTIFICATION","order":1,"config":{"title":"Price changed"}}]}]}`

	rules, err := Load(strings.NewReader(doc), WithOwner("agency-9"), WithDefaultStatus(automation.RuleStatusDraft))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "agency-9", rules[0].OwnerID)
	assert.Equal(t, automation.RuleStatusDraft, rules[0].Status)
	assert.Equal(t, float64(4), rules[0].Conditions["rooms"])
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown trigger": `{"rules":[{"id":"r1","owner_id":"o","name":"n","trigger":{"type":"LEAD_DELETED"}}]}`,
		"unknown action": `{"rules":[{"id":"r1","owner_id":"o","name":"n","trigger":{"type":"LEAD_CREATED"},
			"actions":[{"type":"SEND_FAX"}]}]}`,
		"missing name":      `{"rules":[{"id":"r1","owner_id":"o","trigger":{"type":"LEAD_CREATED"}}]}`,
		"unknown field":     `{"rules":[{"id":"r1","owner_id":"o","name":"n","priority":1,"trigger":{"type":"LEAD_CREATED"}}]}`,
		"nested conditions": `{"rules":[{"id":"r1","owner_id":"o","name":"n","trigger":{"type":"LEAD_CREATED"},"conditions":{"a":{"b":1}}}]}`,
		"bad retry": `{"rules":[{"id":"r1","owner_id":"o","name":"n","trigger":{"type":"LEAD_CREATED"},
			"actions":[{"type":"CALL_WEBHOOK","retry":{"max_attempts":3,"backoff":"soon"}}]}]}`,
		"missing owner": `{"rules":[{"id":"r1","name":"n","trigger":{"type":"LEAD_CREATED"}}]}`,
		"duplicate id": `{"rules":[{"id":"r1","owner_id":"o","name":"n","trigger":{"type":"LEAD_CREATED"}},
			{"id":"r1","owner_id":"o","name":"n","trigger":{"type":"LEAD_CREATED"}}]}`,
		"not a ruleset": `- just a list`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsMissingOwnerWithRuleCode(t *testing.T) {
	_, err := Load(strings.NewReader(`{"rules":[{"id":"r1","name":"n","trigger":{"type":"LEAD_CREATED"}}]}`))
	require.Error(t, err)
	assert.Equal(t, automation.ErrCodeRuleInvalid, automation.ErrorCode(err))
}

func TestImportSavesRules(t *testing.T) {
	rules, err := LoadFile("testdata/leads.yaml")
	require.NoError(t, err)

	mem := store.NewMemoryStore()
	n, err := Import(context.Background(), mem, rules)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := mem.ListActiveRules(context.Background(), "agency-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "hot-lead-follow-up", active[0].ID)
}

func TestSchemaCompiles(t *testing.T) {
	s, err := Schema()
	require.NoError(t, err)
	assert.NotNil(t, s)
}
