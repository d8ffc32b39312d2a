/*
包 server 管理 HTTP(S) 服务器的生命周期：监听、后台服务、
TLS 加载与优雅关闭。pyhost serve 为 API 与 /metrics 各启动一个 Manager，
由 Run 随根 context 一起退出。
*/
package server
