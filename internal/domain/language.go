package domain

import "strings"

// LanguageKey 是语言的稳定标识 (与编辑器的语言模式一致)
type LanguageKey string

const (
	LanguageCPP        LanguageKey = "cpp"
	LanguageJava       LanguageKey = "java"
	LanguagePython     LanguageKey = "python"
	LanguageJavaScript LanguageKey = "javascript"
	LanguageC          LanguageKey = "c"
	LanguageCSharp     LanguageKey = "csharp"
)

// Language 描述一种支持的语言：Judge0 的数字 ID、展示名和起始模板。
type Language struct {
	ID       int         `json:"id"`
	Key      LanguageKey `json:"key"`
	Name     string      `json:"name"`
	Template string      `json:"template"`
}

var languages = []Language{
	{ID: 54, Key: LanguageCPP, Name: "C++", Template: "#include <iostream>\nusing namespace std;\n\nint main() {\n    cout << \"Hello, World!\" << endl;\n    return 0;\n}"},
	{ID: 62, Key: LanguageJava, Name: "Java", Template: "public class Main {\n    public static void main(String[] args) {\n        System.out.println(\"Hello, World!\");\n    }\n}"},
	{ID: 71, Key: LanguagePython, Name: "Python", Template: "print(\"Hello, World!\")\n"},
	{ID: 63, Key: LanguageJavaScript, Name: "JavaScript", Template: "console.log(\"Hello, World!\");\n"},
	{ID: 50, Key: LanguageC, Name: "C", Template: "#include <stdio.h>\n\nint main() {\n    printf(\"Hello, World!\\n\");\n    return 0;\n}"},
	{ID: 51, Key: LanguageCSharp, Name: "C#", Template: "using System;\n\nclass Program {\n    static void Main() {\n        Console.WriteLine(\"Hello, World!\");\n    }\n}"},
}

// Languages 返回所有支持的语言 (副本)
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// LookupLanguage 按 key 查找语言，大小写不敏感
func LookupLanguage(key LanguageKey) (Language, bool) {
	k := LanguageKey(strings.ToLower(strings.TrimSpace(string(key))))
	for _, l := range languages {
		if l.Key == k {
			return l, true
		}
	}
	return Language{}, false
}
