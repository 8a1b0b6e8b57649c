// Package protocol implements the lock gateway wire format.
//
// Every command frame is 49 bytes:
//
//	DD DD DD | CMD(2) | PAYLOAD | zero padding | CHECKSUM | BB
//
// Unsolicited status telemetry is recognised by the 0xF1 marker at byte
// offset 3 and carries one status byte per room at offset room*4.
package protocol
