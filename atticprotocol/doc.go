// Package atticprotocol implements the line-oriented text protocol spoken
// over AtticServer's Unix domain socket, and a client for it.
//
// # Protocol Overview
//
// One command, response or event per newline-terminated line:
//
//	Request format:   CMD:<command> [arguments...]\n
//	Success response: OK:<response-data>\n
//	Error response:   ERR:<error-message>\n
//	Async event:      EVENT:<event-type> <data>\n
//
// Multi-line payloads pack their lines with the Record Separator character
// (0x1E) so every response is a single physical line. Servers listen on
// /tmp/attic-<pid>.sock.
//
// # Basic Usage
//
//	client := atticprotocol.NewClient()
//	defer client.Close()
//
//	if err := client.Connect(atticprotocol.SocketPath(pid)); err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Send(atticprotocol.NewPauseCommand())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if resp.IsOK() {
//	    fmt.Println("Emulator paused")
//	}
//
// # Events
//
// Breakpoint, stopped and error events arrive on a channel that lives as
// long as the client, across reconnects:
//
//	for {
//	    select {
//	    case ev := <-client.Events():
//	        if ev.Type == atticprotocol.EventBreakpoint {
//	            fmt.Printf("Breakpoint hit at $%04X\n", ev.Address)
//	        }
//	    case <-client.Closed():
//	        return
//	    }
//	}
//
// # Liveness
//
// While connected the client pings the server every HeartbeatInterval. If
// no pong has been seen for HeartbeatStaleAfter, the handler registered with
// SetConnectionLostHandler runs once.
//
// # Parsing Commands
//
// CommandParser is the inverse of Command.Format:
//
//	cmd, err := atticprotocol.NewCommandParser().Parse("read $0600 16")
package atticprotocol
