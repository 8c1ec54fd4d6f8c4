package refname_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/git-pull-indep/internal/refname"
)

var _ = Describe("Refname", func() {
	Describe("ValidateBranch", func() {
		It("accepts valid branch names", func() {
			Expect(refname.ValidateBranch("main")).To(Succeed())
			Expect(refname.ValidateBranch("release/v0.25")).To(Succeed())
		})

		It("accepts branch names with multiple slashes", func() {
			for _, branch := range []string{"feature/foo/bar", "release/v2.9/security"} {
				Expect(refname.ValidateBranch(branch)).To(Succeed(), "Expected branch %q to be valid", branch)
			}
		})

		It("rejects empty and whitespace branch names", func() {
			Expect(refname.ValidateBranch("")).NotTo(Succeed())
			Expect(refname.ValidateBranch("feature with space")).NotTo(Succeed())
		})

		It("rejects branch names git would parse as options", func() {
			Expect(refname.ValidateBranch("-f")).NotTo(Succeed())
			Expect(refname.ValidateBranch("--orphan")).NotTo(Succeed())
		})

		It("rejects branch names with forbidden characters", func() {
			for _, branch := range []string{
				"feature..bad",
				"feature~bad",
				"feature^bad",
				"feature:bad",
				"feature@{bad",
				"feature\\bad",
				"feature.lock",
				"feature.",
				"feature//bad",
			} {
				Expect(refname.ValidateBranch(branch)).NotTo(Succeed(), "Expected branch %q to be invalid", branch)
			}
		})
	})

	Describe("ValidateRemote", func() {
		It("accepts conventional remote names", func() {
			Expect(refname.ValidateRemote("origin")).To(Succeed())
			Expect(refname.ValidateRemote("upstream-mirror")).To(Succeed())
		})

		It("rejects empty, nested and unsafe remote names", func() {
			Expect(refname.ValidateRemote(" ")).NotTo(Succeed())
			Expect(refname.ValidateRemote("origin/main")).NotTo(Succeed())
			Expect(refname.ValidateRemote("-origin")).NotTo(Succeed())
		})
	})

	Describe("Tracking", func() {
		It("joins remote and branch", func() {
			Expect(refname.Tracking("origin", "release/v0.30")).To(Equal("origin/release/v0.30"))
		})
	})

	Describe("Normalize", func() {
		It("strips refs/heads prefix, whitespace, and surrounding slashes", func() {
			Expect(refname.Normalize(" /refs/heads/release/v0.31/ ")).To(Equal("release/v0.31"))
		})

		It("is case-insensitive about the refs/heads prefix", func() {
			Expect(refname.Normalize("Refs/Heads/main")).To(Equal("main"))
		})

		It("returns empty string when normalization removes all characters", func() {
			Expect(refname.Normalize(" // ")).To(BeEmpty())
		})
	})
})
