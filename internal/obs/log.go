package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var sharedLogger = sync.OnceValue(func() *log.Logger {
	return log.New(os.Stdout, "", 0)
})

// Logger returns the process-wide logger. All output is one JSON object per
// line so log shippers never have to reassemble entries.
func Logger() *log.Logger {
	return sharedLogger()
}

// LogRequest emits one access log line with the given fields.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Printf(`{"level":"error","msg":"access log marshal failed","error":%q}`, err.Error())
		return
	}
	Logger().Println(string(data))
}
