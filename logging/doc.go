/*
Package logging implements the application log, the access log and a rate
limited logger for the fail-open paths.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
methods. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
	    log.Errorf("nothing to do")
	}

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set the level, to switch
to JSON and to set a common prefix for each log entry.

# Access Log

The access log prints one line per request, similar to the Apache
common log format, extended with the duration, the requested host, the
cache classification, the request id and the user agent. To output entries, use the
LogAccess function, or wrap the handler with NewHandler.

# Rate Limited Log

When an external store is down, every request would log the same
failure. NewRateLimited wraps a Logger and drops the warnings and errors
exceeding the configured rate, reporting the number of dropped entries
with the next one let through.
*/
package logging
