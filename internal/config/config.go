package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         int
	Password     string // empty disables the login page
	LogDirectory string
	DatabasePath string

	// Cameras
	ThermalDevice      string // index ("0") or device path ("/dev/video0")
	RGBDevice          string
	FrameWidth         int
	FrameHeight        int
	PreviewRole        string
	WriteMode          string        // "through" or "on-capture"
	TickInterval       time.Duration // one capture-loop tick per render pass
	DeviceFailureLimit int           // consecutive failed reads before a device is marked failed

	// Stills
	StillDirectory     string
	StillFormat        string
	ClearStillsOnStart bool

	// External detection process
	DetectCommand     string
	DetectScript      string
	WeightsPath       string  // shared default for both roles
	Confidence        float64 // shared default for both roles
	ThermalWeights    string
	RGBWeights        string
	ThermalConfidence float64
	RGBConfidence     float64
	DetectProjectDir  string
	DetectRunName     string
	DetectTimeout     time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	// A missing .env is fine; the environment and defaults still apply.
	_ = godotenv.Load()

	weights := getEnv("WEIGHTS_PATH", filepath.Join(".", "weights", "best.pt"))

	return &Config{
		Port:         getEnvAsInt("PORT", 8080),
		Password:     getEnv("PASSWORD", ""),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		DatabasePath: getEnv("DATABASE_PATH", filepath.Join(".", "data", "dashboard.db")),

		ThermalDevice:      getEnv("THERMAL_DEVICE", "0"),
		RGBDevice:          getEnv("RGB_DEVICE", "2"),
		FrameWidth:         getEnvAsInt("FRAME_WIDTH", 640),
		FrameHeight:        getEnvAsInt("FRAME_HEIGHT", 480),
		PreviewRole:        getEnv("PREVIEW_ROLE", "thermal"),
		WriteMode:          getEnv("WRITE_MODE", "through"),
		TickInterval:       time.Duration(getEnvAsInt("TICK_INTERVAL_MS", 66)) * time.Millisecond,
		DeviceFailureLimit: getEnvAsInt("DEVICE_FAILURE_LIMIT", 30),

		StillDirectory:     getEnv("STILL_DIR", filepath.Join(".", "stills")),
		StillFormat:        strings.ToLower(getEnv("STILL_FORMAT", "png")),
		ClearStillsOnStart: getEnvAsBool("CLEAR_STILLS_ON_START", true),

		// RGB runs at a lower threshold unless CONFIDENCE pins both roles.
		DetectCommand:     getEnv("DETECT_COMMAND", "python3"),
		DetectScript:      getEnv("DETECT_SCRIPT", "detect.py"),
		WeightsPath:       weights,
		Confidence:        getEnvAsFloat("CONFIDENCE", 0.5),
		ThermalWeights:    getEnv("THERMAL_WEIGHTS", weights),
		RGBWeights:        getEnv("RGB_WEIGHTS", weights),
		ThermalConfidence: getEnvAsFloat("THERMAL_CONFIDENCE", getEnvAsFloat("CONFIDENCE", 0.5)),
		RGBConfidence:     getEnvAsFloat("RGB_CONFIDENCE", getEnvAsFloat("CONFIDENCE", 0.25)),
		DetectProjectDir:  getEnv("DETECT_PROJECT_DIR", filepath.Join(".", "runs", "detect")),
		DetectRunName:     getEnv("DETECT_RUN_NAME", "exp"),
		DetectTimeout:     time.Duration(getEnvAsInt("DETECT_TIMEOUT", 0)) * time.Second,
	}
}

// DetectionParams returns the weights and confidence threshold used for a
// camera role ("thermal" or "rgb").
func (c *Config) DetectionParams(role string) (string, float64) {
	if role == "rgb" {
		return c.RGBWeights, c.RGBConfidence
	}
	return c.ThermalWeights, c.ThermalConfidence
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
