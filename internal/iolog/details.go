package iolog

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// 描述文件中的缺省值
const (
	RunUserDefault = "root"
	defaultLines   = 24
	defaultColumns = 80
)

// Details 一次会话的元数据，从开始消息的键值对填充，写完描述文件即丢弃
type Details struct {
	StartTime  int64
	SubmitUser string
	SubmitHost string
	RunUser    string
	RunGroup   string
	TTYName    string
	Cwd        string
	Lines      int
	Columns    int
	Command    string
	Argv       []string
}

// InfoItem 开始消息中的一个键值对，Num/Str/StrList 三者取其一
type InfoItem struct {
	Key     string   `json:"key"`
	Num     *int64   `json:"num,omitempty"`
	Str     *string  `json:"str,omitempty"`
	StrList []string `json:"strlist,omitempty"`
}

var (
	errNotNumber     = errors.New("value is not a number")
	errNotString     = errors.New("value is not a string")
	errNotStringList = errors.New("value is not a string list")
	errOutOfRange    = errors.New("value out of range")
)

func (item InfoItem) numVal() (int64, error) {
	if item.Num == nil {
		return 0, errNotNumber
	}
	return *item.Num, nil
}

func (item InfoItem) strVal() (string, error) {
	if item.Str == nil {
		return "", errNotString
	}
	return *item.Str, nil
}

func (item InfoItem) strListVal() ([]string, error) {
	if item.StrList == nil {
		return nil, errNotStringList
	}
	return item.StrList, nil
}

// infoSetters 识别键到类型化 setter 的固定映射；不在表内的键直接忽略
var infoSetters = map[string]func(*Details, InfoItem) error{
	"columns": func(d *Details, item InfoItem) error {
		n, err := item.numVal()
		if err != nil {
			return err
		}
		if n <= 0 || n > math.MaxInt32 {
			return fmt.Errorf("%w: columns %d", errOutOfRange, n)
		}
		d.Columns = int(n)
		return nil
	},
	"command": func(d *Details, item InfoItem) error {
		s, err := item.strVal()
		if err != nil {
			return err
		}
		d.Command = s
		return nil
	},
	"cwd": func(d *Details, item InfoItem) error {
		s, err := item.strVal()
		if err != nil {
			return err
		}
		d.Cwd = s
		return nil
	},
	"lines": func(d *Details, item InfoItem) error {
		n, err := item.numVal()
		if err != nil {
			return err
		}
		if n <= 0 || n > math.MaxInt32 {
			return fmt.Errorf("%w: lines %d", errOutOfRange, n)
		}
		d.Lines = int(n)
		return nil
	},
	"runargv": func(d *Details, item InfoItem) error {
		list, err := item.strListVal()
		if err != nil {
			return err
		}
		d.Argv = list
		return nil
	},
	"rungroup": func(d *Details, item InfoItem) error {
		s, err := item.strVal()
		if err != nil {
			return err
		}
		d.RunGroup = s
		return nil
	},
	"runuser": func(d *Details, item InfoItem) error {
		s, err := item.strVal()
		if err != nil {
			return err
		}
		d.RunUser = s
		return nil
	},
	"submithost": func(d *Details, item InfoItem) error {
		s, err := item.strVal()
		if err != nil {
			return err
		}
		d.SubmitHost = s
		return nil
	},
	"submituser": func(d *Details, item InfoItem) error {
		s, err := item.strVal()
		if err != nil {
			return err
		}
		d.SubmitUser = s
		return nil
	},
	"ttyname": func(d *Details, item InfoItem) error {
		s, err := item.strVal()
		if err != nil {
			return err
		}
		d.TTYName = s
		return nil
	},
}

// FillDetails 单趟扫描键值对构造会话元数据。类型不匹配或越界的字段
// 作为警告返回并保留缺省值；必填键缺失在扫描结束后统一报 ErrValidation。
func FillDetails(startTime int64, info []InfoItem) (*Details, []string, error) {
	d := &Details{
		StartTime: startTime,
		Lines:     defaultLines,
		Columns:   defaultColumns,
	}

	var warnings []string
	for _, item := range info {
		set, ok := infoSetters[item.Key]
		if !ok {
			continue
		}
		if err := set(d, item); err != nil {
			warnings = append(warnings, fmt.Sprintf("ignoring %q: %v", item.Key, err))
		}
	}

	var missing []string
	if d.SubmitUser == "" {
		missing = append(missing, "submituser")
	}
	if d.SubmitHost == "" {
		missing = append(missing, "submithost")
	}
	if d.Command == "" {
		missing = append(missing, "command")
	}
	if len(missing) > 0 {
		return nil, warnings, fmt.Errorf("%w: missing %s", ErrValidation,
			strings.Join(missing, ", "))
	}

	return d, warnings, nil
}
