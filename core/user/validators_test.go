package user

import (
	"testing"

	"github.com/trezcool/gakuten/core"
)

func Test_passwordPolicyViolation(t *testing.T) {
	LoadCommonPasswords(core.NopLogger)

	type args struct {
		pwd, name, uname, email string
	}
	tests := []struct {
		name    string
		args    args
		wantTag string
	}{
		{name: "too short", args: args{pwd: "Ab1!"}, wantTag: pwdMinLenTag},
		{name: "whitespace", args: args{pwd: "Abcd 123!"}, wantTag: pwdNoSpaceTag},
		{name: "all numeric", args: args{pwd: "1234567890"}, wantTag: pwdNotAllNumTag},
		{name: "no special char", args: args{pwd: "Abcdefg123"}, wantTag: pwdComplexityTag},
		{name: "no upper", args: args{pwd: "abcdef12!"}, wantTag: pwdComplexityTag},
		{name: "similar to username", args: args{pwd: "Hanako_99!", uname: "hanako_99"}, wantTag: pwdAttrSimTag},
		{name: "similar to email", args: args{pwd: "Hana@test.jp1", email: "hana@test.jp"}, wantTag: pwdAttrSimTag},
		{name: "common", args: args{pwd: "P@ssw0rd1"}, wantTag: pwdNoCommonTag},
		{name: "valid", args: args{pwd: "Str0ng!pass", name: "Hana", uname: "hana_s", email: "hana@test.jp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := passwordPolicyViolation(tt.args.pwd, tt.args.name, tt.args.uname, tt.args.email); got != tt.wantTag {
				t.Errorf("passwordPolicyViolation() = %q, want %q", got, tt.wantTag)
			}
		})
	}
}
