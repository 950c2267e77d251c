// Package workflow 编排多代理调用链: 每个步骤执行
// 检索 → 生成 → 交互回写, 步骤间按声明的 DAG 依赖排序.
//
// 依赖只能指向更早声明的步骤, 因此链定义天然无环; 无依赖边的步骤
// 并行执行, 多前驱步骤等待全部前驱终态 (fan-in). 失败按链级策略处理:
// AbortOnFailure 把未启动的依赖步骤置为 Skipped, 链终态 Failed;
// ContinueWithDegradedContext 让失败前驱贡献空上下文继续执行,
// 有失败则链终态 PartiallyCompleted.
package workflow
