// Package logger предоставляет структурированное логирование на базе zerolog.
// JSON формат для production, pretty-print для локальной разработки.
//
// Персональные данные (имя, email, телефон покупателя) в логи не пишутся:
// только идентификаторы заказов, доступов и транзакций.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log — глобальный экземпляр логгера.
var log zerolog.Logger

// Config содержит настройки для инициализации логгера.
type Config struct {
	// Level — минимальный уровень: "trace", "debug", "info", "warn", "error".
	// Неизвестное значение трактуется как "info".
	Level string

	// Pretty включает читаемый цветной вывод вместо JSON.
	Pretty bool

	// Output — куда писать логи. По умолчанию os.Stdout.
	Output io.Writer

	// Service добавляется полем "service" в каждую запись.
	Service string
}

// init настраивает логгер до вызова Init, чтобы логи конфигурации
// не терялись при старте процесса.
func init() {
	Init(Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init инициализирует глобальный логгер.
// Вызывается в main после загрузки конфигурации.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level := parseLevel(cfg.Level)

	ctx := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller()

	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}

	log = ctx.Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

// parseLevel преобразует строковый уровень в zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug создаёт событие уровня debug.
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info создаёт событие уровня info.
// Пример: logger.Info().Str("order_id", id).Msg("Заказ создан")
func Info() *zerolog.Event {
	return log.Info()
}

// Warn создаёт событие уровня warn.
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error создаёт событие уровня error.
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal создаёт событие уровня fatal.
// ВНИМАНИЕ: после Msg() процесс завершится с кодом 1.
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With возвращает zerolog.Context для создания дочернего логгера.
//
//	workerLog := logger.With().Str("worker", "expiry").Logger()
func With() zerolog.Context {
	return log.With()
}

// Logger возвращает копию глобального логгера.
func Logger() zerolog.Logger {
	return log
}

// SetGlobalLogger подменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l zerolog.Logger) {
	log = l
}
