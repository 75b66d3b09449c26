package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/appforge/pkg/models"
)

func TestStateMergeBusinessInfo(t *testing.T) {
	st := NewState("p1")
	st.MergeBusinessInfo(models.BusinessInfo{Name: "Acme", Industry: "Retail"})
	st.MergeBusinessInfo(models.BusinessInfo{Description: "A shop", Industry: "Food & Beverage"})

	info := st.BusinessInfo()
	assert.Equal(t, "Acme", info.Name)
	assert.Equal(t, "A shop", info.Description)
	assert.Equal(t, "Food & Beverage", info.Industry, "later non-empty fields overwrite")
	assert.False(t, info.Complete())
}

func TestStateQuestionLifecycle(t *testing.T) {
	st := NewState("p1")
	assert.False(t, st.WaitingForUserResponse())

	step := st.BeginQuestion("What is your business name?")
	assert.Equal(t, 1, step)
	assert.True(t, st.WaitingForUserResponse())
	assert.True(t, st.AlreadyAsked("What is your business name?"))

	st.ResolveQuestion("What is your business name?", "Acme", true)
	assert.False(t, st.WaitingForUserResponse())

	answer, ok := st.CachedAnswer("What is your business name?")
	assert.True(t, ok)
	assert.Equal(t, "Acme", answer)
}

func TestStateRepeatedQuestionRecordedOnce(t *testing.T) {
	st := NewState("p1")
	st.BeginQuestion("Where are you located?")
	st.ResolveQuestion("Where are you located?", "", false)
	step := st.BeginQuestion("Where are you located?")

	assert.Equal(t, 2, step, "step advances on every ask")
	assert.Len(t, st.AskedQuestions(), 1)
}

func TestStateUnansweredQuestionNotCached(t *testing.T) {
	st := NewState("p1")
	st.BeginQuestion("Contact info?")
	st.ResolveQuestion("Contact info?", "no response", false)

	_, ok := st.CachedAnswer("Contact info?")
	assert.False(t, ok)
}

func TestStateFiles(t *testing.T) {
	st := NewState("p1")
	st.SetFile("app/page.tsx", "export default function Page() {}")
	st.SetFile("app/layout.tsx", "layout")

	files := st.Files()
	assert.Equal(t, 2, st.FileCount())
	files["app/page.tsx"] = "mutated"
	assert.Equal(t, "export default function Page() {}", st.Files()["app/page.tsx"], "Files returns a copy")
}
