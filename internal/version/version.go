package version

import "fmt"

// Service — имя сервиса в логах, User-Agent и health-ответах.
const Service = "checkout-service"

// Заполняются через -ldflags "-X .../internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарник.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

func (b Build) String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", Service, b.Version, b.Commit, b.Date)
}

// Fields возвращает поля для стартового лога.
func (b Build) Fields() map[string]any {
	return map[string]any{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}

func GetVersion() string { return version }

// UserAgent — заголовок исходящих запросов к backend магазина.
func UserAgent() string {
	return Service + "/" + version
}
