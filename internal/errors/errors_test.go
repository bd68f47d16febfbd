package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	t.Parallel()

	err := New(fmt.Errorf("boom")).Build()
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, CategoryGeneric, err.Category)
	assert.Equal(t, KindUnknown, err.Kind)
	assert.Equal(t, "unknown", err.Component)
}

func TestKindPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind Kind
		pred func(error) bool
	}{
		{"retrieval required", KindRetrievalRequired, IsRetrievalRequired},
		{"stage failure", KindStageFailure, IsStageFailure},
		{"integrity failure", KindIntegrityFailure, IsIntegrityFailure},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Newf("scene missing").Kind(tt.kind).Build()
			assert.True(t, tt.pred(err))

			// Predicate must survive further wrapping.
			wrapped := fmt.Errorf("while planning: %w", err)
			assert.True(t, tt.pred(wrapped))
		})
	}
}

func TestKindOfPlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))
	assert.False(t, IsRetrievalRequired(stderrors.New("plain")))
}

func TestUnitContext(t *testing.T) {
	t.Parallel()

	err := Newf("calibration failed").
		Component("pipeline").
		Category(CategoryStage).
		Kind(KindStageFailure).
		UnitContext("A117_IW2_3341", "20200101").
		Context("stage", "calibrate").
		Build()

	ctx := err.GetContext()
	require.NotNil(t, ctx)
	assert.Equal(t, "A117_IW2_3341", ctx["bid"])
	assert.Equal(t, "20200101", ctx["date"])
	assert.Equal(t, "calibrate", ctx["stage"])

	// Returned map is a copy; mutating it must not leak back.
	ctx["bid"] = "tampered"
	assert.Equal(t, "A117_IW2_3341", err.GetContext()["bid"])
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	inner := stderrors.New("root cause")
	err := New(fmt.Errorf("outer: %w", inner)).Category(CategoryFileIO).Build()
	assert.True(t, Is(err, inner))
}
