// =============================================================================
// 📦 测试数据工厂 - 脚本样例
// =============================================================================
// 各执行模式共用的 Starlark 源码片段
// =============================================================================
package fixtures

import (
	"fmt"
	"strings"
)

// =============================================================================
// 🎯 代码块
// =============================================================================

// PrintLines returns a block printing each line to stdout.
func PrintLines(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "print(%q)\n", l)
	}
	return b.String()
}

// SpinUntilStopped sleeps in short steps until the execution is stopped.
const SpinUntilStopped = "while not should_stop():\n    sleep(0.01)"

// IndexFault raises an index error after printing a line.
const IndexFault = "print('before')\nx = [1][5]\n"

// =============================================================================
// 🔁 生成器
// =============================================================================

// RangeGenerator defines entry point "items" yielding {"n": i} for i < n.
func RangeGenerator(n int) (definition, entryPoint string) {
	return fmt.Sprintf("def items():\n    return [{'n': i} for i in range(%d)]\n", n), "items"
}

// =============================================================================
// 📚 模块
// =============================================================================

// MathModule is a loadable module exporting double and square.
const MathModule = `def double(x):
    return x * 2

def square(x):
    return x * x
`

// BrokenModule does not compile.
const BrokenModule = "def broken(:\n"
