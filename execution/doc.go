/*
Package execution 是执行协调器：在会话命名空间中运行代码，并负责锁、超时、
取消与输出转发。

# 执行流水线

每次调用依次经过：

 1. 参数校验（不持有任何锁）
 2. 会话锁，带有限等待；超时返回 busy
 3. 运行上下文 = 调用方 ctx + 超时 + 停止信号，登记到在途表
 4. 解析或创建会话命名空间
 5. 解释器单元在 worker 上运行，只在解释器调用期间持有 GIL
 6. 流式模式下，另一个 worker 从 Output Relay 读取输出并上报 progress 事件
 7. 超时或取消后等待宽限期，写入终止行，关闭 Relay 并等待读取完成

# 执行模式

  - ExecuteCode / EvaluateCommand / ExecuteCommand
  - ExecuteWithVariables：注入变量，输出整体上报一次
  - ExecuteBatch：一次 GIL 内逐条求值，单条失败不影响其他条目
  - ExecuteGenerator：每个元素单独获取 GIL，回调在 GIL 之外执行
  - ExecuteInteractive：按段顺序执行，可选遇错即停

# 错误语义

返回的 error 仅用于参数错误、会话繁忙和宿主故障（types.Error）。
解释器错误、超时与取消都体现在 Result 中（Success=false, error=nil）。
*/
package execution
