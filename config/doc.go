// Package config 提供 memflow 的统一配置加载:
// 默认值 → YAML 文件 → 环境变量覆盖, 最后统一校验.
package config
