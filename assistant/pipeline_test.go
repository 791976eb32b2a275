package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Retoucher/core"
	"Retoucher/storage"
)

func TestImageWithoutTextIsFreeAnalysis(t *testing.T) {
	h := newHarness(t, 3)

	reply := h.send(t, "", true)

	assert.Equal(t, core.IntentAnalysis, reply.Intent)
	assert.Equal(t, core.StatusOK, reply.Status)
	assert.False(t, reply.Charged)
	assert.Contains(t, reply.Text, "vaisselle dans l'évier")
	assert.Equal(t, []string{"vaisselle dans l'évier", "éclairage insuffisant"}, reply.Issues)
	assert.Equal(t, []core.ImageRef{"https://s3/upload-1.jpg"}, h.analyzer.inspected)
	assert.Equal(t, 0, h.credits.decrements)
	assert.Equal(t, 3, h.balance(t))

	s := h.session(t)
	assert.Equal(t, core.ImageRef("https://s3/upload-1.jpg"), s.LastUploadedImage)
	assert.Equal(t, reply.Issues, s.LastIssues)
	require.Len(t, s.History, 2)
	assert.Equal(t, storage.RoleUser, s.History[0].Role)
	assert.True(t, s.History[1].IsFree)
}

func TestEditWithoutAnyImageAsksForPhoto(t *testing.T) {
	h := newHarness(t, 3)
	h.model.answer = "edit_request"

	reply := h.send(t, "supprime le canapé", false)

	assert.Equal(t, core.IntentNeedImage, reply.Intent)
	assert.Equal(t, core.StatusNeedImage, reply.Status)
	assert.Equal(t, msgNeedImage, reply.Text)
	assert.Empty(t, h.generator.calls)
	assert.Equal(t, 0, h.credits.decrements)
	assert.Equal(t, 3, h.balance(t))
}

func TestChainedEditUsesGeneratedImage(t *testing.T) {
	h := newHarness(t, 3)
	h.model.answer = "edit_request"

	first := h.send(t, "supprime le canapé", true)
	require.Equal(t, core.StatusOK, first.Status)
	assert.Equal(t, core.IntentEditRequest, first.Intent)
	assert.True(t, first.Charged)
	assert.Equal(t, core.ImageRef("https://out/1.png"), first.Image)

	second := h.send(t, "et la lumière aussi", false)
	require.Equal(t, core.StatusOK, second.Status)
	assert.Equal(t, core.IntentContinuation, second.Intent)
	assert.True(t, second.Charged)

	require.Len(t, h.generator.calls, 2)
	assert.Equal(t, core.ImageRef("https://s3/upload-1.jpg"), h.generator.calls[0].base)
	assert.Equal(t, core.ImageRef("https://out/1.png"), h.generator.calls[1].base)
	assert.Equal(t, "instruction: et la lumière aussi", h.generator.calls[1].instruction)

	assert.Equal(t, 2, h.credits.decrements)
	assert.Equal(t, 1, h.balance(t))
	assert.Equal(t, core.ImageRef("https://out/2.png"), h.session(t).LastGeneratedImage)
}

func TestInvalidOutputRetriedOnceThenFailsWithoutCharge(t *testing.T) {
	h := newHarness(t, 3)
	h.model.answer = "edit_request"
	invalid := &core.CollaboratorError{Op: "replicate", Err: core.ErrInvalidOutputFormat}
	h.generator.outcomes = []outcome{{err: invalid}, {err: invalid}}

	reply := h.send(t, "supprime le canapé", true)

	assert.Equal(t, core.StatusFailed, reply.Status)
	assert.Contains(t, reply.Text, "Aucun crédit n'a été débité")
	assert.False(t, reply.Charged)
	assert.Empty(t, reply.Image)
	assert.Len(t, h.generator.calls, 2, "exactly one retry")
	assert.Equal(t, 0, h.credits.decrements)
	assert.Equal(t, 3, h.balance(t))

	s := h.session(t)
	assert.Equal(t, 0, s.RetryCount)
	assert.Empty(t, s.LastGeneratedImage)
}

func TestRetrySucceedsAndChargesOnce(t *testing.T) {
	h := newHarness(t, 3)
	h.model.answer = "edit_request"
	h.generator.outcomes = []outcome{{err: errors.New("timeout")}}

	reply := h.send(t, "supprime le canapé", true)

	assert.Equal(t, core.StatusOK, reply.Status)
	assert.True(t, reply.Charged)
	assert.Len(t, h.generator.calls, 2)
	assert.Len(t, h.synth.texts, 2, "the retry re-runs synthesis")
	assert.Equal(t, 1, h.credits.decrements)
	assert.Equal(t, 2, h.balance(t))
	assert.Equal(t, 0, h.session(t).RetryCount)
}

func TestNoCreditBlocksEdit(t *testing.T) {
	h := newHarness(t, 0)
	h.model.answer = "edit_request"

	reply := h.send(t, "supprime le canapé", true)

	assert.Equal(t, core.StatusInsufficientCredit, reply.Status)
	assert.False(t, reply.Charged)
	assert.Empty(t, h.generator.calls)
	assert.Equal(t, 0, h.credits.decrements)
}

func TestClassifierDownMeansConversation(t *testing.T) {
	h := newHarness(t, 3)
	h.model.err = errors.New("unreachable")

	for i := 0; i < 3; i++ {
		reply := h.send(t, "supprime le canapé", false)
		assert.Equal(t, core.IntentConversation, reply.Intent)
		assert.Equal(t, "réponse", reply.Text)
	}
	assert.Empty(t, h.generator.calls)
	assert.Equal(t, 0, h.credits.decrements)
}

func TestAmbiguousAnswerAsksForClarification(t *testing.T) {
	h := newHarness(t, 3)
	h.model.answer = "maybe an edit?"

	reply := h.send(t, "la cuisine", false)

	assert.Equal(t, core.IntentClarification, reply.Intent)
	assert.Equal(t, []string{"la cuisine"}, h.responder.clarify)
	assert.Empty(t, h.responder.respond)
	assert.False(t, reply.Charged)
}

func TestConversationFailureIsFree(t *testing.T) {
	h := newHarness(t, 3)
	h.responder.err = errors.New("both down")

	reply := h.send(t, "bonjour", false)

	assert.Equal(t, core.StatusFailed, reply.Status)
	assert.Equal(t, msgConversationFail, reply.Text)
	assert.False(t, reply.Charged)
}

func TestAnalysisRequestUsesWorkingImage(t *testing.T) {
	h := newHarness(t, 3)
	h.model.answer = "edit_request"
	h.send(t, "supprime le canapé", true)

	h.model.answer = "analysis"
	reply := h.send(t, "que penses-tu du résultat ?", false)

	assert.Equal(t, core.IntentAnalysis, reply.Intent)
	assert.Equal(t, "description", reply.Text)
	assert.Equal(t, []core.ImageRef{"https://out/1.png"}, h.analyzer.described)
	assert.Equal(t, 1, h.credits.decrements)
}

func TestAnalysisWithoutImageAsksForPhoto(t *testing.T) {
	h := newHarness(t, 3)
	h.model.answer = "analysis"

	reply := h.send(t, "analyse ma photo", false)
	assert.Equal(t, core.IntentNeedImage, reply.Intent)
	assert.Empty(t, h.analyzer.described)
}

func TestNewUploadStartsNewLineage(t *testing.T) {
	h := newHarness(t, 5)
	h.model.answer = "edit_request"
	h.send(t, "supprime le canapé", true)

	reply := h.send(t, "enlève la table", true)
	assert.Equal(t, core.IntentEditRequest, reply.Intent)
	require.Len(t, h.generator.calls, 2)
	assert.Equal(t, core.ImageRef("https://s3/upload-2.jpg"), h.generator.calls[1].base)
}

func TestFixIssuesAfterAnalysis(t *testing.T) {
	h := newHarness(t, 3)
	h.send(t, "", true)

	reply, err := h.pipeline.FixIssues(context.Background(), core.Input{ConversationId: testConversation, UserId: testUser})
	require.NoError(t, err)

	assert.Equal(t, core.StatusOK, reply.Status)
	assert.True(t, reply.Charged)
	require.Len(t, h.generator.calls, 1)
	call := h.generator.calls[0]
	assert.Equal(t, core.ImageRef("https://s3/upload-1.jpg"), call.base)
	assert.Contains(t, call.instruction, "Do: remove dishes")
	assert.Contains(t, call.instruction, "enhance lighting")
	assert.Contains(t, call.instruction, "Don't:")
	assert.Empty(t, h.synth.texts)
	assert.Equal(t, 1, h.credits.decrements)
	assert.Empty(t, h.session(t).LastIssues)
}

func TestFixIssuesWithoutAnalysis(t *testing.T) {
	h := newHarness(t, 3)

	reply, err := h.pipeline.FixIssues(context.Background(), core.Input{ConversationId: testConversation, UserId: testUser})
	require.NoError(t, err)
	assert.Equal(t, msgNothingToFix, reply.Text)
	assert.False(t, reply.Charged)
	assert.Empty(t, h.generator.calls)
}

func TestInputValidation(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	_, err := h.pipeline.HandleMessage(ctx, core.Input{ConversationId: testConversation, Text: "x"})
	assert.ErrorIs(t, err, core.ErrAuth)

	_, err = h.pipeline.HandleMessage(ctx, core.Input{UserId: testUser, Text: "x"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = h.pipeline.HandleMessage(ctx, core.Input{ConversationId: testConversation, UserId: testUser, Text: "  "})
	assert.ErrorIs(t, err, core.ErrValidation)

	h.uploader.err = core.Validation("unsupported image type")
	_, err = h.pipeline.HandleMessage(ctx, core.Input{
		ConversationId: testConversation,
		UserId:         testUser,
		Image:          &core.Attachment{Data: []byte("gif")},
	})
	assert.ErrorIs(t, err, core.ErrValidation)

	s, err := h.store.GetSession(ctx, testConversation)
	require.NoError(t, err)
	assert.Nil(t, s, "rejected input never touches the session")
}

func TestClearAndBalance(t *testing.T) {
	h := newHarness(t, 2)
	h.send(t, "bonjour", false)

	require.NoError(t, h.pipeline.ClearConversation(context.Background(), testConversation))
	s, err := h.store.GetSession(context.Background(), testConversation)
	require.NoError(t, err)
	assert.Nil(t, s)

	balance, err := h.pipeline.Balance(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, balance)

	_, err = h.pipeline.Balance(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrAuth)
}

func TestDecrementsNeverExceedSuccesses(t *testing.T) {
	h := newHarness(t, 10)
	h.model.answer = "edit_request"
	fail := errors.New("gpu busy")
	h.generator.outcomes = []outcome{
		{ref: "https://out/a.png"},
		{err: fail}, {err: fail},
		{err: fail}, {ref: "https://out/b.png"},
		{ref: ""},
	}

	successes := 0
	for i, text := range []string{"supprime le canapé", "plus clair", "sans tapis", "repeins le mur"} {
		reply := h.send(t, text, i == 0)
		if reply.Status == core.StatusOK {
			successes++
		}
	}
	assert.Equal(t, 3, successes)
	assert.Equal(t, successes, h.credits.decrements)
	assert.Equal(t, 10-successes, h.balance(t))
}
