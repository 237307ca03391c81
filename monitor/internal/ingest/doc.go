// Package ingest connects the monitor to the MQTT broker.
//
// A Subscriber receives sensor messages and hands them to the pipeline in
// arrival order, keeps the connection alive across broker restarts and
// publishes operator control commands back to devices.
package ingest
