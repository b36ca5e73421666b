package mtask

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	ConfigPath string
	Profile    string
	Verbose    bool
	ApiGinMode string

	Port           string
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	// kc
	AuthDisabled bool
	AuthAddress  string
	Realm        string
	Audience     string
	ClientID     string
	ClientSecret string `cfg:"secret"`

	// database
	DBBackend   string
	DBAddress   string
	DBUser      string
	DBPassword  string `cfg:"secret"`
	DBName      string
	SQLitePath  string
	InitSQLPath string

	// board engine
	PersistSiblingOrders bool

	// file resources
	StorageDir  string
	MaxUploadMB int

	TranslationDir     string
	SupportedLanguages []string
}

func loadConfig(path string) Config {
	if err := godotenv.Load(path); err != nil {
		zap.L().Warn("failed to load the config file, using defaults and environment", zap.String("path", path))
	}

	s := strings.Split(path, "/")
	config := Config{
		ConfigPath: s[len(s)-1],
		Profile:    getEnv("PROFILE", "baremetal"),
		Verbose:    getBoolEnv("VERBOSE", "true"),
		ApiGinMode: getEnv("GIN_MODE", "debug"),

		Port:           getEnv("PORT", "5030"),
		AllowedOrigins: getEnvFields("ALLOW_ORIGINS", []string{"*"}),
		AllowedMethods: getEnvFields("ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvFields("ALLOW_HEADERS", []string{"*"}),

		AuthDisabled: getBoolEnv("AUTH_DISABLED", "false"),
		AuthAddress:  getEnv("AUTH_ADDRESS", "localhost:5555"),
		Realm:        getEnv("KC_REALM", "pms-myproj"),
		Audience:     getEnv("KC_AUDIENCE", "pms-front"),
		ClientID:     getEnv("KC_CLIENT", "admin"),
		ClientSecret: getEnv("KC_CLIENT_SECRET", ""),

		DBBackend:   strings.ToLower(getEnv("DB_BACKEND", "postgres")),
		DBAddress:   getEnv("DB_ADDRESS", "api-db:5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "pms"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/coachboard.db"),
		InitSQLPath: getEnv("INIT_SQL_PATH", ""),

		PersistSiblingOrders: getBoolEnv("PERSIST_SIBLING_ORDERS", "true"),

		StorageDir:  getEnv("STORAGE_DIR", "./data/files"),
		MaxUploadMB: getIntEnv("MAX_UPLOAD_MB", 50),

		TranslationDir:     getEnv("TRANSLATION_DIR", "./translation"),
		SupportedLanguages: getEnvFields("SUPPORTED_LANGUAGES", []string{"en", "fr"}),
	}

	if config.Verbose {
		fmt.Print(config.toString())
	}

	return config
}

func getEnv(env, fallback string) string {
	if value, exists := os.LookupEnv(env); exists {
		return value
	}

	return fallback
}

func getEnvFields(env string, fallback []string) []string {
	if value, exists := os.LookupEnv(env); exists {
		var fields []string
		for _, f := range strings.Split(strings.TrimSpace(value), ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}

		return fields
	}

	return fallback
}

func getBoolEnv(env, fallback string) bool {
	if value, exists := os.LookupEnv(env); exists {
		return strings.ToLower(value) == "true"
	}

	return strings.ToLower(fallback) == "true"
}

func getIntEnv(env string, fallback int) int {
	if value, exists := os.LookupEnv(env); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
	}

	return fallback
}

func (cfg *Config) toString() string {
	var strBuilder strings.Builder

	reflectedValues := reflect.ValueOf(cfg).Elem()
	reflectedTypes := reflect.TypeOf(cfg).Elem()

	strBuilder.WriteString(fmt.Sprintf("[CFG]CONFIGURATION: %s\n", cfg.ConfigPath))

	for i := range reflectedValues.NumField() {
		field := reflectedTypes.Field(i)
		fieldName := field.Name
		fieldValue := reflectedValues.Field(i).Interface()

		if field.Tag.Get("cfg") == "secret" {
			if s, _ := fieldValue.(string); s != "" {
				fieldValue = "********"
			}
		}

		strBuilder.WriteString("[CFG]")
		if i < 9 {
			strBuilder.WriteString(fmt.Sprintf("%d.  ", i+1))
		} else {
			strBuilder.WriteString(fmt.Sprintf("%d. ", i+1))
		}
		if len(fieldName) <= 6 {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t\t\t\t-> %v\n", fieldName, fieldValue))
		} else if len(fieldName) <= 14 {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t\t\t-> %v\n", fieldName, fieldValue))
		} else if len(fieldName) <= 25 {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t\t-> %v\n", fieldName, fieldValue))
		} else {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t-> %v\n", fieldName, fieldValue))
		}
	}

	return strBuilder.String()
}
