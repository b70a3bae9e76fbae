package repair

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/graphrepair/checkpoint"
	"github.com/BaSui01/graphrepair/fixer"
	"github.com/BaSui01/graphrepair/testutil"
	"github.com/BaSui01/graphrepair/testutil/fixtures"
	"github.com/BaSui01/graphrepair/testutil/mocks"
)

// 无论网关在第几轮通过，校验次数都不超过迭代上限，且恰好一条终止记录
func TestProperty_Run_IterationBound(t *testing.T) {
	cat := testutil.Catalog(t)
	g := testutil.Graph(t, fixtures.TextToImage)

	rapid.Check(t, func(rt *rapid.T) {
		maxIter := rapid.IntRange(1, 8).Draw(rt, "maxIter")
		failures := rapid.IntRange(0, 10).Draw(rt, "failures")

		gw := mocks.NewScriptedGateway().
			Repeat(failures, mocks.RawFailure("Exception: rejected")).
			Then(mocks.Pass())
		store := checkpoint.NewMemoryStore()
		o := New(store, gw, cat, fixer.New(store, nil), DefaultConfig(), nil)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ch, err := o.Run(ctx, Request{SessionID: "prop", Graph: g, MaxIterations: maxIter})
		require.NoError(rt, err)

		var terminal []Record
		for rec := range ch {
			if rec.Done {
				terminal = append(terminal, rec)
			}
		}
		require.Len(rt, terminal, 1)
		summary := terminal[0].Summary

		expectedCalls := min(failures+1, maxIter)
		assert.Equal(rt, expectedCalls, gw.CallCount())
		assert.Equal(rt, expectedCalls, summary.Iterations)
		if failures < maxIter {
			assert.Equal(rt, StateSuccess, summary.Status)
		} else {
			assert.Equal(rt, StateExhausted, summary.Status)
		}
	})
}
