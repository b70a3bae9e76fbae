// 版权所有 2024 GraphRepair Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理。

Manager 封装 net/http.Server：Start 非阻塞启动，Run 阻塞至 ctx
取消后优雅关闭，便于在 errgroup 中同时运行 API 与 metrics 两个
监听器。关闭时先取消请求的基础上下文，使修复 SSE 流与 WebSocket
连接及时结束，再等待在途请求完成。
*/
package server
