// Package factory is a generic registry that builds modules from
// configuration. A module entry names a type and carries raw settings;
// the factory registered for that type decodes them with Decode and returns
// the implementation. Metrics sinks are built this way:
//
//	metrics:
//	  sinks:
//	    - type: influx
//	      conf: {url: http://influx:8086, bucket: fleet, timeout: 3s}
package factory
