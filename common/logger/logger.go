package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	conf "github.com/abcfe/hdpay/config"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// no-op until InitLogger so packages can log from tests and tools
var logger = zap.NewNop()
var stag = "alpha"
var cf *conf.Config

func InitLogger(cfg *conf.Config) error {
	now := time.Now()
	lPath := fmt.Sprintf("%s_%s.log", cfg.LogInfo.Path, now.Format("2006-01-02"))
	cf = cfg

	// Check -debug flag
	hasDebugFlag := false
	for _, arg := range os.Args {
		if arg == "-debug" || arg == "--debug" {
			hasDebugFlag = true
			break
		}
	}

	// If -debug flag is present use "alpha", otherwise the configured level
	if hasDebugFlag {
		cfg.Common.Level = "alpha"
	} else if cfg.Common.Level == "" {
		cfg.Common.Level = "prod"
	}

	rotator, err := rotatelogs.New(
		lPath,
		rotatelogs.WithMaxAge(time.Duration(cfg.LogInfo.MaxAgeHour)*time.Hour),
		rotatelogs.WithRotationTime(time.Duration(cfg.LogInfo.RotateHour)*time.Hour))
	if err != nil {
		return err
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "date",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	w := zapcore.AddSync(rotator)
	cw := zapcore.AddSync(os.Stdout)
	var core zapcore.Core
	stag = cfg.Common.Level
	if stag == "alpha" || stag == "local" {
		core = zapcore.NewTee(
			zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, zap.DebugLevel),
			zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), cw, zap.DebugLevel),
		)
	} else {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, zap.InfoLevel)
	}
	logger = zap.New(core).With(zap.String("service", cfg.Common.ServiceName))

	logger.Info("logging init file start")
	return nil
}

// Sync flushes buffered entries, call before exit.
func Sync() {
	_ = logger.Sync()
}

func Debug(ctx ...interface{}) {
	var b bytes.Buffer
	for _, str := range ctx {
		b.WriteString(fmt.Sprintf("%v", str))
	}

	logger.Debug("debug", zap.String("Debug", b.String()))
}

// Info is a convenient alias for Root().Info
func Info(ctx ...interface{}) {
	var b bytes.Buffer

	for _, str := range ctx {
		b.WriteString(fmt.Sprintf("%v", str))
	}
	logger.Info("info", zap.String("Info", b.String()))
}

// Warn is a convenient alias for Root().Warn
func Warn(ctx ...interface{}) {
	var b bytes.Buffer
	for _, str := range ctx {
		b.WriteString(fmt.Sprintf("%v", str))
	}

	logger.Warn("warn", zap.String("Warn", b.String()))
}

// Error is a convenient alias for Root().Error
func Error(ctx ...interface{}) {
	var b bytes.Buffer
	for _, str := range ctx {
		b.WriteString(fmt.Sprintf("%v", str))
	}

	logger.Error("error", zap.String("Err", b.String()))
	if stag != "alpha" && stag != "local" && cf != nil && cf.LogInfo.AlertURL != "" {
		go sendAlert(cf, b.String())
	}
}

func Crit(ctx ...interface{}) {
	var b bytes.Buffer
	for _, str := range ctx {
		b.WriteString(fmt.Sprintf("%v", str))
	}

	if stag != "alpha" && stag != "local" && cf != nil && cf.LogInfo.AlertURL != "" {
		sendAlert(cf, b.String())
	}
	logger.Fatal("panic", zap.String("Crit", b.String()))
}

func sendAlert(cf *conf.Config, body string) bool {
	path, _ := os.Getwd()
	msg := "[" + cf.Common.ServiceName + "_" + cf.Common.Level + "] " + body + "\nModule : " + path
	if cf.Common.Level == "prod" {
		msg = "!!!From Prod-live stage!!! " + msg
	}

	pbytes, _ := json.Marshal(map[string]interface{}{"text": msg})
	buff := bytes.NewBuffer(pbytes)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(cf.LogInfo.AlertURL, "application/json", buff)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return true
}

// Error handling
func HandleErr(err error) {
	if err != nil {
		Error(err)
	}
}
