// Package config defines the joycored command-line surface.
package config

import (
	"github.com/joyline/joycore/internal/cmd"
)

// LogConfig holds the logging flags shared by every command.
type LogConfig struct {
	Level   string `help:"Log level" enum:"trace,debug,info,warn,error" default:"info" env:"JOYCORE_LOG_LEVEL"`
	File    string `help:"Also write logs to this file" type:"path" env:"JOYCORE_LOG_FILE"`
	RawFile string `help:"Write raw HID report hex dumps to this file" type:"path" env:"JOYCORE_LOG_RAW_FILE"`
}

// CLI is the root kong grammar for joycored.
type CLI struct {
	Config string    `help:"Path to a configuration file" type:"path" env:"JOYCORE_CONFIG"`
	Log    LogConfig `embed:"" prefix:"log."`

	List    cmd.List          `cmd:"" help:"List attached controllers"`
	Monitor cmd.Monitor       `cmd:"" help:"Open all controllers and stream their state"`
	Cfg     cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration file helpers"`
}
