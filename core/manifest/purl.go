package manifest

import (
	packageurl "github.com/package-url/packageurl-go"
)

// PackageURL renders pkg:github/<owner>/<repo>@<version>.
func PackageURL(repo Repo, version string) string {
	return packageurl.NewPackageURL(packageurl.TypeGithub, repo.Owner, repo.Name, version, nil, "").ToString()
}
