// Package call holds the domain types shared by the voice call client: the
// session status signal, the connection state, transcript entries, and the
// error taxonomy used across capture, playback, and transport.
//
// The moving parts live in sub-packages:
//
//   - eventloop: the single control goroutine every component runs on
//   - capture: microphone capture, one clip per listening interval
//   - playback: the ordered, cancellable speech segment queue
//   - transport: the websocket connection and frame classification
//   - session: the state machine tying the above together
package call
