package logger

type Field struct {
	Key   string
	Value interface{}
}

// 日志字段收敛

func Service(name string) Field {
	return Field{
		Key:   "service",
		Value: name,
	}
}

func Key(key string) Field {
	return Field{
		Key:   "key",
		Value: key,
	}
}

func Lease(id int64) Field {
	return Field{
		Key:   "lease",
		Value: id,
	}
}

func Target(target string) Field {
	return Field{
		Key:   "target",
		Value: target,
	}
}

func Revision(rev int64) Field {
	return Field{
		Key:   "revision",
		Value: rev,
	}
}

func Error(err error) Field {
	return Field{
		Key:   "error",
		Value: err,
	}
}

func Fields(fs ...Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fs))
	for _, f := range fs {
		m[f.Key] = f.Value
	}
	return m
}
