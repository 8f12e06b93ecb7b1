package assets

// View lists the assets a launcher view needs before it is shown.
type View struct {
	Images []string
	CSS    []string
}

// Paths returns the view's images followed by its stylesheets.
func (v View) Paths() []string {
	return append(append([]string(nil), v.Images...), v.CSS...)
}

// Views maps each launcher view to its assets.
var Views = map[string]View{
	"landing": {
		Images: []string{
			"assets/images/backgrounds/box.jpg",
			"assets/images/SealCircle.png",
			"assets/images/jetons.png",
			"assets/images/wheel-icon.svg",
		},
		CSS: []string{"assets/css/landing.css"},
	},
	"help": {
		Images: []string{
			"assets/images/SealCircle.png",
			"assets/images/help.png",
			"assets/images/help1.png",
			"assets/images/jetons.png",
		},
		CSS: []string{"assets/css/landing.css"},
	},
	"cgu": {
		Images: []string{"assets/images/SealCircle.png", "assets/images/jetons.png"},
		CSS:    []string{"assets/css/landing.css"},
	},
	"wheel": {
		Images: []string{
			"assets/images/SealCircle.png",
			"assets/images/wheel-icon.svg",
			"assets/images/jetons.png",
		},
		CSS: []string{"assets/css/landing.css"},
	},
	"settings": {
		Images: []string{"assets/images/SealCircle.png", "assets/images/jetons.png"},
		CSS:    []string{"assets/css/settings.css"},
	},
	"login": {
		CSS: []string{"assets/css/launcher.css"},
	},
}

// CriticalViews are preloaded on startup, most visited first.
var CriticalViews = []string{"landing", "login", "help", "cgu", "wheel", "settings"}

// CommonImages appear on most pages.
var CommonImages = []string{
	"assets/images/SealCircle.png",
	"assets/images/jetons.png",
	"assets/images/icons/shop.svg",
}
