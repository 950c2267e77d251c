// Copyright (c) MemFlow Authors.
// Licensed under the MIT License.

/*
Package server 提供 HTTP 服务器生命周期管理。

Manager 封装 net/http.Server 的启动、运行期错误传播与优雅关闭：
Start 非阻塞启动，WaitForShutdown 阻塞等待 SIGINT/SIGTERM 或异常退出，
Shutdown 在配置的超时内排空在途请求。重复 Shutdown 为空操作，
关闭后的 Manager 不可重新启动。
*/
package server
