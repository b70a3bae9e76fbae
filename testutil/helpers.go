// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	cat := testutil.Catalog(t)
//	g := testutil.Graph(t, fixtures.MissingModelLink)
//	testutil.AssertNoDanglingEdges(t, g)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BaSui01/graphrepair/catalog"
	"github.com/BaSui01/graphrepair/graph"
	"github.com/BaSui01/graphrepair/testutil/fixtures"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 📦 领域数据辅助
// =============================================================================

// Catalog 返回基于 fixtures.ObjectInfo 的静态节点目录
func Catalog(t testing.TB) *catalog.StaticCatalog {
	t.Helper()
	cat, err := catalog.NewStaticFromObjectInfo([]byte(fixtures.ObjectInfo))
	if err != nil {
		t.Fatalf("failed to parse catalog fixture: %v", err)
	}
	return cat
}

// Graph 解析工作流 JSON，失败时终止测试
func Graph(t testing.TB, data string) graph.Graph {
	t.Helper()
	g, err := graph.Parse([]byte(data))
	if err != nil {
		t.Fatalf("failed to parse graph fixture: %v", err)
	}
	return g
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertNoDanglingEdges 断言图中每条边的源节点都存在
func AssertNoDanglingEdges(t testing.TB, g graph.Graph) {
	t.Helper()
	for _, e := range g.DanglingEdges() {
		t.Errorf("dangling edge %s.%s -> missing node %s", e.TargetID, e.TargetInput, e.SourceID)
	}
}

// AssertJSONEqual 断言两个值的 JSON 表示相等
func AssertJSONEqual(t testing.TB, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}

	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}

	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual: %s", expectedJSON, actualJSON)
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t testing.TB, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("condition did not become true within %v", timeout)
}

// =============================================================================
// ⏱️ 通道辅助
// =============================================================================

// Collect 读取通道直到关闭或超时
func Collect[T any](t testing.TB, ch <-chan T, timeout time.Duration) []T {
	t.Helper()

	var out []T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timer.C:
			t.Fatalf("channel not closed within %v (received %d values)", timeout, len(out))
			return out
		}
	}
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
