// wsclient keeps a WebSocket connection open, prints what it receives and
// optionally records it to PostgreSQL.
//
// Usage:
//
//	wsclient run --url wss://stream.example.com/ws
//	wsclient run --config configs/wsclient.yaml --stdin
package main

func main() {
	Execute()
}
