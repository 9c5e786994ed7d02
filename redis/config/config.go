package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	bitcask "github.com/Tuanzi-bug/tuankv"
	"github.com/Tuanzi-bug/tuankv/index"
)

// ServerProperties defines global config properties
type ServerProperties struct {
	Bind       string `cfg:"bind"`
	Port       int    `cfg:"port"`
	MaxClients int    `cfg:"maxclients"` // 0 表示不限制
	Dir        string `cfg:"dir,omitempty"`

	// 存储引擎
	DataFileSize  int64   `cfg:"datafilesize"`
	SyncWrites    bool    `cfg:"syncwrites"`
	BytesPerSync  int     `cfg:"bytespersync"`
	IndexType     string  `cfg:"indextype"` // btree | art | bptree
	MMapAtStartup bool    `cfg:"mmapatstartup"`
	MergeRatio    float64 `cfg:"mergeratio"`
	// 定时 merge 的间隔，0 表示不开启
	MergeInterval time.Duration `cfg:"mergeinterval"`

	// 连接
	RateLimit    int           `cfg:"ratelimit"` // 每个连接每秒执行的命令数
	IdleTimeout  time.Duration `cfg:"idletimeout"`
	WriteTimeout time.Duration `cfg:"writetimeout"`

	LogDir      string `cfg:"logdir,omitempty"`
	MetricsAddr string `cfg:"metricsaddr,omitempty"`

	// config file path
	CfPath string `cfg:"cf,omitempty"`
}

// ErrUnknownConfig 配置名不存在
var ErrUnknownConfig = errors.New("unknown config")

// Properties holds global config properties
var Properties *ServerProperties

func init() {
	Properties = defaultProperties()
}

func defaultProperties() *ServerProperties {
	return &ServerProperties{
		Bind:          "127.0.0.1",
		Port:          6379,
		MaxClients:    10000,
		Dir:           "data",
		DataFileSize:  bitcask.DefaultOptions.DataFileSize,
		IndexType:     "btree",
		MMapAtStartup: true,
		MergeRatio:    float64(bitcask.DefaultOptions.DataFileMergeRatio),
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

// Keys returns every property name accepted in config file
func Keys() []string {
	t := reflect.TypeOf(ServerProperties{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		keys = append(keys, fieldKey(t.Field(i)))
	}
	return keys
}

// get key from tag if not exists, use field name
func fieldKey(field reflect.StructField) string {
	key, ok := field.Tag.Lookup("cfg")
	if !ok || strings.TrimLeft(key, " ") == "" {
		return strings.ToLower(field.Name)
	}
	key, _, _ = strings.Cut(key, ",")
	return strings.ToLower(strings.TrimSpace(key))
}

// Set 按配置名设置一个属性，value 的格式与配置文件相同
func (p *ServerProperties) Set(key, value string) error {
	key = strings.ToLower(key)
	t := reflect.TypeOf(p).Elem()
	v := reflect.ValueOf(p).Elem()
	for i := 0; i < t.NumField(); i++ {
		if fieldKey(t.Field(i)) != key {
			continue
		}
		if err := setField(v.Field(i), value); err != nil {
			return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
		}
		return nil
	}
	return fmt.Errorf("%w %q", ErrUnknownConfig, key)
}

func setField(fieldValue reflect.Value, value string) error {
	if fieldValue.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			// 不带单位时按秒处理
			secs, ierr := strconv.ParseInt(value, 10, 64)
			if ierr != nil {
				return err
			}
			d = time.Duration(secs) * time.Second
		}
		fieldValue.SetInt(int64(d))
		return nil
	}
	switch fieldValue.Kind() {
	case reflect.String:
		fieldValue.SetString(value)
	case reflect.Int, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		fieldValue.SetInt(intValue)
	case reflect.Float64:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		fieldValue.SetFloat(floatValue)
	case reflect.Bool:
		switch strings.ToLower(value) {
		case "yes", "true", "1":
			fieldValue.SetBool(true)
		case "no", "false", "0":
			fieldValue.SetBool(false)
		default:
			return errors.New("expect yes or no")
		}
	default:
		return fmt.Errorf("unsupported kind %s", fieldValue.Kind())
	}
	return nil
}

func parse(src io.Reader) (*ServerProperties, error) {
	config := defaultProperties()
	// read config file
	scanner := bufio.NewScanner(src)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		// 判断是否当前行被注释
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("line %d: expect 'key value'", lineNo)
		}
		// store properties into config, 不认识的配置直接忽略
		if err := config.Set(key, strings.TrimSpace(value)); err != nil && !errors.Is(err, ErrUnknownConfig) {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return config, nil
}

// SetupConfig read config file and store properties into Properties
func SetupConfig(configFilename string) error {
	// read config file
	file, err := os.Open(configFilename)
	if err != nil {
		return err
	}
	defer file.Close()
	props, err := parse(file)
	if err != nil {
		return fmt.Errorf("parse %s: %w", configFilename, err)
	}
	if configFilePath, err := filepath.Abs(configFilename); err == nil {
		props.CfPath = configFilePath
	}
	if props.Dir == "" {
		props.Dir = "."
	}
	Properties = props
	return nil
}

// Address returns bind:port
func (p *ServerProperties) Address() string {
	return net.JoinHostPort(p.Bind, strconv.Itoa(p.Port))
}

// EngineOptions 转换成存储引擎的配置
func (p *ServerProperties) EngineOptions() (bitcask.Options, error) {
	opts := bitcask.DefaultOptions
	opts.DirPath = p.Dir
	opts.DataFileSize = p.DataFileSize
	opts.SyncWrites = p.SyncWrites
	opts.MMapAtStartup = p.MMapAtStartup
	opts.DataFileMergeRatio = float32(p.MergeRatio)
	if p.BytesPerSync < 0 {
		return opts, errors.New("bytespersync must not be negative")
	}
	opts.BytesPerSync = uint(p.BytesPerSync)
	switch strings.ToLower(p.IndexType) {
	case "", "btree":
		opts.IndexType = index.Btree
	case "art":
		opts.IndexType = index.Art
	case "bptree":
		opts.IndexType = index.BPTree
	default:
		return opts, fmt.Errorf("unsupported index type %q", p.IndexType)
	}
	return opts, nil
}
