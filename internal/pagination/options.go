package pagination

// Options are the tunables shared by all strategies. The mapstructure tags
// are the keys used in registry entries, pagination memory, and overrides.
type Options struct {
	Param        string `mapstructure:"pagination_param" json:"pagination_param,omitempty"`
	StartPage    int    `mapstructure:"start_page"       json:"start_page,omitempty"`
	Step         int    `mapstructure:"page_step"        json:"page_step,omitempty"`
	PathPrefix   string `mapstructure:"path_prefix"      json:"path_prefix,omitempty"`
	OffsetParam  string `mapstructure:"offset_param"     json:"offset_param,omitempty"`
	PageSize     int    `mapstructure:"page_size"        json:"page_size,omitempty"`
	NextSelector string `mapstructure:"next_selector"    json:"next_selector,omitempty"`
}

// Option defaults.
const (
	DefaultParam       = "page"
	DefaultOffsetParam = "offset"
	DefaultPageSize    = 20
)

// WithDefaults fills unset options with the package defaults.
func (o Options) WithDefaults() Options {
	if o.Param == "" {
		o.Param = DefaultParam
	}
	if o.StartPage <= 0 {
		o.StartPage = 1
	}
	if o.Step <= 0 {
		o.Step = 1
	}
	if o.OffsetParam == "" {
		o.OffsetParam = DefaultOffsetParam
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	return o
}
