package logger

import "time"

// Config selects the log level and the transports logs are written to.
// Transport is a "+"-joined combination of "stdout", "file" and "elastic",
// for example "stdout" or "file+elastic".
type Config struct {
	LogLevel      string         `yaml:"log_level"`
	FilePath      string         `yaml:"file_path"`
	Transport     string         `yaml:"transport"`
	EncodeTime    string         `yaml:"encode_time"`
	DevMode       bool           `yaml:"dev_mode"`
	ElasticConfig *ElasticConfig `yaml:"elastic"`
}

// ElasticConfig configures the Elasticsearch log transport.
type ElasticConfig struct {
	Url             string        `yaml:"url"`
	Index           string        `yaml:"index"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
}
