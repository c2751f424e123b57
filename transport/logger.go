package transport

import "log"

type Logger interface {
	Print(v ...any)
	Printf(format string, v ...any)
	Println(v ...any)
}

type DefaultLogger struct{}

func (n DefaultLogger) Print(_ ...any)            {}
func (n DefaultLogger) Printf(_ string, _ ...any) {}
func (n DefaultLogger) Println(_ ...any)          {}

type DebugLogger struct{}

func (n DebugLogger) Print(v ...any)                 { log.Print(v...) }
func (n DebugLogger) Printf(format string, v ...any) { log.Printf(format, v...) }
func (n DebugLogger) Println(v ...any)               { log.Println(v...) }

// prefixLogger tags every line with its owning component, e.g. a stage's
// node address and shard.
type prefixLogger struct {
	prefix string
	base   Logger
}

func withPrefix(base Logger, prefix string) Logger {
	if base == nil {
		base = DefaultLogger{}
	}
	return prefixLogger{prefix: prefix, base: base}
}

func (p prefixLogger) Print(v ...any) {
	p.base.Print(append([]any{p.prefix, " "}, v...)...)
}

func (p prefixLogger) Printf(format string, v ...any) {
	p.base.Printf(p.prefix+" "+format, v...)
}

func (p prefixLogger) Println(v ...any) {
	p.base.Println(append([]any{p.prefix}, v...)...)
}
