// Package embedding 提供统一的嵌入提供者接口和实现.
//
// Provider 将文本转换为固定长度的向量, 对相同输入必须是确定性的.
// FallbackProvider 在主提供者失败时降级到本地哈希嵌入, 并显式标记
// degraded=true —— 降级向量永远不会被默默当作等同于主向量.
package embedding
