package main

import "time"

type Config struct {
	SessionName      string        `env:"SESSION_NAME,required=true"`
	SessionCapacity  int           `env:"SESSION_CAPACITY,required=true"`
	SendBufferSize   int           `env:"SEND_BUFFER_SIZE,default=16"`
	EventBufferSize  int           `env:"EVENT_BUFFER_SIZE,default=64"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT,default=5s"`
	AdmitTimeout     time.Duration `env:"ADMIT_TIMEOUT,default=3s"`
	SinkTimeout      time.Duration `env:"SINK_TIMEOUT,default=2s"`
	MetricInterval   time.Duration `env:"METRIC_INTERVAL,default=30s"`
	RestartInterval  time.Duration `env:"RESTART_INTERVAL,default=1s"`

	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LimitRecords      *int          `env:"LIMIT_RECORDS"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
	Host              string        `env:"HOST,default=localhost"`
	Port              int           `env:"PORT,default=8080"`
	DebugPort         int           `env:"DEBUG_PORT"`
}
