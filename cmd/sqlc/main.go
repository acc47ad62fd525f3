// Command sqlc генерирует query-пакеты journal-стора: по одному запуску sqlc
// на каждый queries.sql из .sqlc.base.yaml.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"gopkg.in/yaml.v2"

	"github.com/spf13/viper"
)

const defaultConfigName = "sqlc.yaml"

// packageFor: .../trades/sql/queries.sql -> "sql".
func packageFor(file string) (string, string) {
	dir, _ := filepath.Split(file)
	parts := strings.Split(strings.TrimSuffix(dir, string(os.PathSeparator)), string(os.PathSeparator))
	return dir, parts[len(parts)-1]
}

// renderConfig собирает sqlc.yaml для одного файла запросов.
func renderConfig(engine *viper.Viper, version, file string) ([]byte, error) {
	dir, packageName := packageFor(file)
	engine.Set("gen.go.package", packageName)
	engine.Set("gen.go.out", dir)
	engine.Set("queries", file)

	engineSettings := engine.AllSettings()
	delete(engineSettings, "source")

	resultConfig := viper.New()
	resultConfig.Set("version", version)
	resultConfig.Set("sql", []interface{}{engineSettings})

	bs, err := yaml.Marshal(resultConfig.AllSettings())
	if err != nil {
		return nil, errors.Wrap(err, "marshal config to yaml")
	}
	return bs, nil
}

func writeConfig(content []byte) (string, error) {
	_ = os.Remove(defaultConfigName)
	if err := os.WriteFile(defaultConfigName, content, 0o644); err != nil {
		return "", errors.Wrap(err, "write sqlc.yaml")
	}
	return defaultConfigName, nil
}

func callSqlc(config string) error {
	cmd := exec.Command("sqlc", "generate", "--file", config)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("call sqlc: %s", string(output)))
	}
	return nil
}

func queryFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		f, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "glob %s", pattern)
		}
		files = append(files, f...)
	}
	return files, nil
}

func run() error {
	viper.SetEnvPrefix("SQLC")
	viper.AutomaticEnv()
	viper.SetDefault("base", ".sqlc.base")

	viper.SetConfigName(viper.GetString("base"))
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return errors.Wrap(err, "read base config")
	}

	files, err := queryFiles(viper.GetStringSlice("sql.0.source"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("sql.0.source matched no query files")
	}

	engine := viper.Sub("sql.0")
	if engine == nil {
		return errors.New("has no sql.0 in config")
	}
	engine.Set("schema", viper.GetString("sql.0.schema"))
	dryRun := viper.GetBool("dry_run")

	defer os.Remove(defaultConfigName)
	for _, file := range files {
		content, err := renderConfig(engine, viper.GetString("version"), file)
		if err != nil {
			return errors.Wrapf(err, "config for %s", file)
		}
		if dryRun {
			fmt.Printf("# %s\n%s\n", file, content)
			continue
		}
		configFile, err := writeConfig(content)
		if err != nil {
			return err
		}
		if err := callSqlc(configFile); err != nil {
			return errors.Wrapf(err, "generate %s", file)
		}
		fmt.Printf("%s file complete\n", file)
	}
	fmt.Println("done")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sqlc: %v\n", err)
		os.Exit(1)
	}
}
