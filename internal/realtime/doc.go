// Package realtime fans session events out to connected participants.
//
// Events travel over NATS on per-session subjects:
//
//	sessions.<id>.intentions.<insert|update|delete>
//	sessions.<id>.stage.<tick|transition|finished>
//	sessions.<id>.lifecycle.<started|ended>
//
// ServeSSE relays one session's subjects to a browser as Server-Sent
// Events named "<topic>.<action>", for example "intentions.insert".
// StartEmbedded runs an in-process NATS server for single-node setups.
package realtime
