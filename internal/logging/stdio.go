package logging

import (
	"log/slog"
)

// SetupStdioMode initializes logging for the stdio transport and installs
// the logger as the process default.
//
// In stdio mode stdout carries JSON-RPC frames exclusively. Some MCP
// clients also treat stderr output as a connection failure, so stdio mode
// logs to the rotating file only.
func SetupStdioMode(level, filePath string) (func(), error) {
	if filePath == "" {
		filePath = DefaultLogPath()
	}

	cfg := Config{
		Level:         level,
		FilePath:      filePath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	slog.Info("stdio mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}

// SetupHTTPMode initializes logging for the http transport: rotating file
// plus stderr, installed as the process default.
func SetupHTTPMode(level, filePath string) (func(), error) {
	if filePath == "" {
		filePath = DefaultLogPath()
	}

	cfg := Config{
		Level:         level,
		FilePath:      filePath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}
