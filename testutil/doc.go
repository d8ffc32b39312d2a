/*
Package testutil 提供 pyhost 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。它只依赖 progress，execution、session、
interpreter 等包的包内测试都可以直接引用。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 输出断言: OutputLines / AssertOutput，按流比对进度事件中的输出行
  - 数据工具: AssertJSONEqual / MustParseJSON / WaitForChannel

# 子包

  - testutil/mocks: MockRecorder，同时实现执行指标 Recorder 与 GIL 观察者
  - testutil/fixtures: Starlark 脚本样例（输出、超时循环、故障、生成器、模块）

# 使用示例

	rec := mocks.NewMockRecorder()
	coord := execution.NewCoordinator(rt, nil, nil, execution.WithRecorder(rec))
	res, _ := coord.ExecuteCode(testutil.TestContext(t), "s1", fixtures.PrintLines("hi"), opts)
*/
package testutil
